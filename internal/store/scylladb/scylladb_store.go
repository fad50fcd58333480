// internal/store/scylladb/scylladb_store.go
package scylladb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store"
	"github.com/gocql/gocql"
)

var ErrConfigOptionMissing = errors.New("ScyllaDB requires a config option")

// StoreName the name of the store.
const StoreName string = "scylladb"

func init() {
	lockservice.Register(StoreName, newStore)
}

func newStore(ctx context.Context, options lockservice.Config, logger *observability.SLogger) (store.LockStore, error) {
	cfg, ok := options.(*ScyllaDBConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Store: StoreName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// queries holds the CQL statements for one keyspace and table.
// Conditional statements run as lightweight transactions.
type queries struct {
	createKeyspace string
	createEntries  string
	createIndex    string

	get              string
	putIfAbsent      string
	compareAndSwap   string
	compareAndDelete string
	delete           string
	scan             string

	addMember    string
	removeMember string
	indexMembers string
}

func newQueries(keyspace, table string, replicationFactor int) queries {
	entries := fmt.Sprintf(`"%s"."%s"`, keyspace, table)
	index := fmt.Sprintf(`"%s"."%s_index"`, keyspace, table)

	return queries{
		createKeyspace: fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS "%s" WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`, keyspace, replicationFactor),
		createEntries:  fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key text PRIMARY KEY, value blob)`, entries),
		createIndex:    fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name text, member text, PRIMARY KEY (name, member))`, index),

		get:              fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, entries),
		putIfAbsent:      fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?) IF NOT EXISTS USING TTL ?`, entries),
		compareAndSwap:   fmt.Sprintf(`UPDATE %s USING TTL ? SET value = ? WHERE key = ? IF value = ?`, entries),
		compareAndDelete: fmt.Sprintf(`DELETE FROM %s WHERE key = ? IF value = ?`, entries),
		delete:           fmt.Sprintf(`DELETE FROM %s WHERE key = ? IF EXISTS`, entries),
		scan:             fmt.Sprintf(`SELECT key, value FROM %s`, entries),

		addMember:    fmt.Sprintf(`INSERT INTO %s (name, member) VALUES (?, ?)`, index),
		removeMember: fmt.Sprintf(`DELETE FROM %s WHERE name = ? AND member = ?`, index),
		indexMembers: fmt.Sprintf(`SELECT member FROM %s WHERE name = ?`, index),
	}
}

// Store implements store.LockStore on ScyllaDB.
type Store struct {
	session *gocql.Session
	q       queries
	l       *observability.SLogger
	config  *ScyllaDBConfig
}

// GetConfig returns the current store configuration
func (s *Store) GetConfig() store.StoreConfig {
	return s.config
}

// parseConsistency converts string consistency to gocql.Consistency
func parseConsistency(c string) gocql.Consistency {
	switch c {
	case "CONSISTENCY_ONE":
		return gocql.One
	case "CONSISTENCY_ALL":
		return gocql.All
	case "CONSISTENCY_LOCAL_QUORUM":
		return gocql.LocalQuorum
	default:
		return gocql.Quorum
	}
}

// ttlSeconds rounds up to whole seconds. CQL treats a TTL of 0 as no expiry.
func ttlSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return int((ttl + time.Second - 1) / time.Second)
}

// New connects to the cluster and creates the keyspace and tables when missing.
func New(ctx context.Context, config *ScyllaDBConfig, logger *observability.SLogger) (*Store, error) {
	if config == nil {
		return nil, ErrConfigOptionMissing
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(config.Endpoints...)
	cluster.ProtoVersion = 4
	cluster.Consistency = parseConsistency(config.Consistency)
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = config.GetOperationTimeout()

	session, err := cluster.CreateSession()
	if err != nil {
		logger.Errorf("Error creating session: %v", err)
		return nil, store.Unreachable("create session", err)
	}

	s := &Store{
		session: session,
		q:       newQueries(config.Keyspace, config.TableName, config.ReplicationFactor),
		l:       logger,
		config:  config,
	}

	if err := s.initSchema(ctx); err != nil {
		session.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range []string{s.q.createKeyspace, s.q.createEntries, s.q.createIndex} {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to initialise schema: %w", err)
		}
	}
	return nil
}

// linearizableRead reads rows written by lightweight transactions through
// Paxos so a read never trails a committed CAS.
const linearizableRead = gocql.Consistency(gocql.LocalSerial)

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.session.Query(s.q.get, key).WithContext(ctx).Consistency(linearizableRead).Scan(&value)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, store.Unreachable("get", err)
	}
	return value, nil
}

func (s *Store) cas(ctx context.Context, op, stmt string, args ...interface{}) (bool, error) {
	applied, err := s.session.Query(stmt, args...).WithContext(ctx).MapScanCAS(make(map[string]interface{}))
	if err != nil {
		return false, store.Unreachable(op, err)
	}
	return applied, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.cas(ctx, "put if absent", s.q.putIfAbsent, key, value, ttlSeconds(ttl))
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	return s.cas(ctx, "compare and swap", s.q.compareAndSwap, ttlSeconds(ttl), value, key, old)
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	return s.cas(ctx, "compare and delete", s.q.compareAndDelete, key, old)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.cas(ctx, "delete", s.q.delete, key)
	return err
}

// Scan reads the whole entries table and filters by prefix client side.
// Partition keys are hashed, so CQL cannot range over a key prefix.
func (s *Store) Scan(ctx context.Context, prefix string) ([]store.Entry, error) {
	iter := s.session.Query(s.q.scan).WithContext(ctx).PageSize(500).Iter()

	entries := make([]store.Entry, 0)
	var (
		key   string
		value []byte
	)
	for iter.Scan(&key, &value) {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, store.Entry{Key: key, Value: append([]byte(nil), value...)})
		}
	}
	if err := iter.Close(); err != nil {
		return nil, store.Unreachable("scan", err)
	}
	return entries, nil
}

func (s *Store) AddToIndex(ctx context.Context, index, member string) error {
	if err := s.session.Query(s.q.addMember, index, member).WithContext(ctx).Exec(); err != nil {
		return store.Unreachable("add to index", err)
	}
	return nil
}

func (s *Store) RemoveFromIndex(ctx context.Context, index, member string) error {
	if err := s.session.Query(s.q.removeMember, index, member).WithContext(ctx).Exec(); err != nil {
		return store.Unreachable("remove from index", err)
	}
	return nil
}

func (s *Store) IndexMembers(ctx context.Context, index string) ([]string, error) {
	iter := s.session.Query(s.q.indexMembers, index).WithContext(ctx).Iter()

	members := make([]string, 0)
	var member string
	for iter.Scan(&member) {
		members = append(members, member)
	}
	if err := iter.Close(); err != nil {
		return nil, store.Unreachable("index members", err)
	}
	return members, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec(); err != nil {
		return store.Unreachable("ping", err)
	}
	return nil
}

// Close closes the session
func (s *Store) Close() {
	s.session.Close()
}
