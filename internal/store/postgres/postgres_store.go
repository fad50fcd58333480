// internal/store/postgres/postgres_store.go
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avivl/conference-lock/internal/database"
	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreName is the registered name of the SQL store
const StoreName = "postgres"

var ErrConfigOptionMissing = errors.New("Postgres requires a config option")

// lockEntry is one key/value row. ExpiresAt is Unix nanoseconds, zero for no expiry.
type lockEntry struct {
	Key       string `gorm:"primaryKey;column:key_id"`
	Value     []byte `gorm:"column:value"`
	ExpiresAt int64  `gorm:"column:expires_at"`
}

type indexEntry struct {
	Name   string `gorm:"primaryKey;column:name"`
	Member string `gorm:"primaryKey;column:member"`
}

const liveCondition = "(expires_at = 0 OR expires_at > ?)"

func init() {
	lockservice.Register(StoreName, newStore)
}

func newStore(ctx context.Context, options lockservice.Config, logger *observability.SLogger) (store.LockStore, error) {
	cfg, ok := options.(*PostgresConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Store: StoreName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// Store implements store.LockStore with gorm.
type Store struct {
	db      *gorm.DB
	entries string
	index   string
	timeout time.Duration
	now     func() time.Time
	ownsDB  bool
	l       *observability.SLogger
	config  *PostgresConfig
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for expiry evaluation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens its own connection pool and migrates the lock tables.
func New(ctx context.Context, config *PostgresConfig, logger *observability.SLogger) (*Store, error) {
	if config == nil {
		return nil, ErrConfigOptionMissing
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, &config.Config, logger)
	if err != nil {
		return nil, store.Unreachable("connect", err)
	}

	s, err := NewWithDB(ctx, db, config, logger)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewWithDB builds a store on an existing connection.
func NewWithDB(ctx context.Context, db *gorm.DB, config *PostgresConfig, logger *observability.SLogger, opts ...Option) (*Store, error) {
	s := &Store{
		db:      db,
		entries: config.TableName,
		index:   config.TableName + "_index",
		timeout: config.QueryTimeout,
		now:     time.Now,
		l:       logger,
		config:  config,
	}
	for _, opt := range opts {
		opt(s)
	}

	tx := db.WithContext(ctx)
	if err := tx.Table(s.entries).AutoMigrate(&lockEntry{}); err != nil {
		return nil, err
	}
	if err := tx.Table(s.index).AutoMigrate(&indexEntry{}); err != nil {
		return nil, err
	}
	return s, nil
}

// GetConfig returns the current store configuration
func (s *Store) GetConfig() store.StoreConfig {
	return s.config
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(cctx), cancel
}

func (s *Store) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var entry lockEntry
	err := db.Table(s.entries).
		Where("key_id = ? AND "+liveCondition, key, s.now().UnixNano()).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, store.Unreachable("get", err)
	}
	return entry.Value, nil
}

// PutIfAbsent clears an expired row for key, then inserts unless a row exists.
func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Table(s.entries).
		Where("key_id = ? AND expires_at <> 0 AND expires_at <= ?", key, s.now().UnixNano()).
		Delete(&lockEntry{}).Error
	if err != nil {
		return false, store.Unreachable("put if absent", err)
	}

	result := db.Table(s.entries).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&lockEntry{Key: key, Value: value, ExpiresAt: s.expiry(ttl)})
	if result.Error != nil {
		return false, store.Unreachable("put if absent", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	result := db.Table(s.entries).
		Where("key_id = ? AND value = ? AND "+liveCondition, key, old, s.now().UnixNano()).
		Updates(map[string]interface{}{"value": value, "expires_at": s.expiry(ttl)})
	if result.Error != nil {
		return false, store.Unreachable("compare and swap", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	result := db.Table(s.entries).
		Where("key_id = ? AND value = ? AND "+liveCondition, key, old, s.now().UnixNano()).
		Delete(&lockEntry{})
	if result.Error != nil {
		return false, store.Unreachable("compare and delete", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	if err := db.Table(s.entries).Where("key_id = ?", key).Delete(&lockEntry{}).Error; err != nil {
		return store.Unreachable("delete", err)
	}
	return nil
}

// Scan also purges rows past their expiry, standing in for the TTL the other
// backends get from the server.
func (s *Store) Scan(ctx context.Context, prefix string) ([]store.Entry, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	now := s.now().UnixNano()
	purge := db.Table(s.entries).Where("expires_at <> 0 AND expires_at <= ?", now).Delete(&lockEntry{})
	if purge.Error != nil {
		return nil, store.Unreachable("scan", purge.Error)
	}
	if purge.RowsAffected > 0 {
		s.l.Debugw("Purged expired lock rows", "count", purge.RowsAffected)
	}

	var rows []lockEntry
	err := db.Table(s.entries).
		Where(`key_id LIKE ? ESCAPE '\' AND `+liveCondition, escapeLike(prefix)+"%", now).
		Order("key_id").
		Find(&rows).Error
	if err != nil {
		return nil, store.Unreachable("scan", err)
	}

	entries := make([]store.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, store.Entry{Key: row.Key, Value: row.Value})
	}
	return entries, nil
}

func (s *Store) AddToIndex(ctx context.Context, index, member string) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Table(s.index).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&indexEntry{Name: index, Member: member}).Error
	if err != nil {
		return store.Unreachable("add to index", err)
	}
	return nil
}

func (s *Store) RemoveFromIndex(ctx context.Context, index, member string) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Table(s.index).Where("name = ? AND member = ?", index, member).Delete(&indexEntry{}).Error
	if err != nil {
		return store.Unreachable("remove from index", err)
	}
	return nil
}

func (s *Store) IndexMembers(ctx context.Context, index string) ([]string, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	members := make([]string, 0)
	err := db.Table(s.index).Where("name = ?", index).Order("member").Pluck("member", &members).Error
	if err != nil {
		return nil, store.Unreachable("index members", err)
	}
	return members, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return store.Unreachable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return store.Unreachable("ping", err)
	}
	return nil
}

// Close closes the pool when the store opened it
func (s *Store) Close() {
	if !s.ownsDB {
		return
	}
	if err := database.Close(s.db); err != nil {
		s.l.Errorf("Error closing database: %v", err)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
