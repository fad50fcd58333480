// internal/store/postgres/postgres_store_test.go
package postgres

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/avivl/conference-lock/internal/database"
	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func sqliteConfig(t *testing.T) *PostgresConfig {
	t.Helper()
	cfg := NewPostgresConfig()
	cfg.Driver = database.DriverSQLite
	cfg.DSN = filepath.Join(t.TempDir(), "locks.db")
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	cfg.LogLevel = "silent"
	return cfg
}

func setupTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	cfg := sqliteConfig(t)
	logger := observability.NewNopLogger()

	db, err := database.Open(context.Background(), &cfg.Config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewWithDB(context.Background(), db, cfg, logger, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, observability.NewNopLogger())
	assert.ErrorIs(t, err, ErrConfigOptionMissing)

	cfg := sqliteConfig(t)
	cfg.TableName = ""
	_, err = New(context.Background(), cfg, observability.NewNopLogger())
	assert.EqualError(t, err, "table is required")
}

func TestGetMissingKey(t *testing.T) {
	s, _ := setupTestStore(t)

	_, err := s.Get(context.Background(), "lock:1")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestPutIfAbsent(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.PutIfAbsent(ctx, "lock:1", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.PutIfAbsent(ctx, "lock:1", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	value, err := s.Get(ctx, "lock:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), value)

	t.Run("after_ttl", func(t *testing.T) {
		clock.Advance(time.Minute)

		_, err := s.Get(ctx, "lock:1")
		assert.ErrorIs(t, err, store.ErrKeyNotFound)

		ok, err := s.PutIfAbsent(ctx, "lock:1", []byte("c"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("no_ttl", func(t *testing.T) {
		ok, err := s.PutIfAbsent(ctx, "lock:2", []byte("d"), 0)
		require.NoError(t, err)
		assert.True(t, ok)

		clock.Advance(24 * time.Hour)
		value, err := s.Get(ctx, "lock:2")
		require.NoError(t, err)
		assert.Equal(t, []byte("d"), value)
	})
}

func TestCompareAndSwap(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()

	_, err := s.PutIfAbsent(ctx, "lock:1", []byte("a"), time.Minute)
	require.NoError(t, err)

	ok, err := s.CompareAndSwap(ctx, "lock:1", []byte("stale"), []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(30 * time.Second)
	ok, err = s.CompareAndSwap(ctx, "lock:1", []byte("a"), []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// the swap reset the TTL
	clock.Advance(45 * time.Second)
	value, err := s.Get(ctx, "lock:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), value)

	ok, err = s.CompareAndSwap(ctx, "lock:2", []byte("a"), []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "missing key never matches")

	clock.Advance(time.Minute)
	ok, err = s.CompareAndSwap(ctx, "lock:1", []byte("b"), []byte("c"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "expired row never matches")
}

func TestCompareAndDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.PutIfAbsent(ctx, "lock:1", []byte("a"), time.Minute)
	require.NoError(t, err)

	ok, err := s.CompareAndDelete(ctx, "lock:1", []byte("b"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndDelete(ctx, "lock:1", []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Get(ctx, "lock:1")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "lock:missing"))

	_, err := s.PutIfAbsent(ctx, "lock:1", []byte("a"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "lock:1"))

	_, err = s.Get(ctx, "lock:1")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestScan(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()

	for key, ttl := range map[string]time.Duration{
		"lock:2":        time.Hour,
		"lock:1":        time.Hour,
		"lock:3":        time.Second,
		"lockx":         time.Hour,
		"other:1":       time.Hour,
		"lock%_literal": time.Hour,
	} {
		_, err := s.PutIfAbsent(ctx, key, []byte(key), ttl)
		require.NoError(t, err)
	}
	clock.Advance(time.Minute)

	entries, err := s.Scan(ctx, "lock:")
	require.NoError(t, err)

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
		assert.Equal(t, []byte(e.Key), e.Value)
	}
	assert.Equal(t, []string{"lock:1", "lock:2"}, keys)

	entries, err = s.Scan(ctx, "lock%")
	require.NoError(t, err)
	require.Len(t, entries, 1, "wildcards in the prefix are literal")
	assert.Equal(t, "lock%_literal", entries[0].Key)
}

func TestIndex(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	members, err := s.IndexMembers(ctx, "locks-by-user:7")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, s.AddToIndex(ctx, "locks-by-user:7", "3"))
	require.NoError(t, s.AddToIndex(ctx, "locks-by-user:7", "1"))
	require.NoError(t, s.AddToIndex(ctx, "locks-by-user:7", "3"))
	require.NoError(t, s.AddToIndex(ctx, "locks-by-user:8", "9"))

	members, err = s.IndexMembers(ctx, "locks-by-user:7")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, members)

	require.NoError(t, s.RemoveFromIndex(ctx, "locks-by-user:7", "1"))
	require.NoError(t, s.RemoveFromIndex(ctx, "locks-by-user:7", "missing"))

	members, err = s.IndexMembers(ctx, "locks-by-user:7")
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, members)
}

func TestPingAndClose(t *testing.T) {
	cfg := sqliteConfig(t)
	s, err := New(context.Background(), cfg, observability.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, s.Ping(context.Background()))
	assert.Same(t, cfg, s.GetConfig())

	s.Close()
	err = s.Ping(context.Background())
	assert.ErrorIs(t, err, store.ErrNotReachable)
}

func TestRegisteredConstructor(t *testing.T) {
	ctx := context.Background()

	_, err := lockservice.NewStore(ctx, StoreName, "wrong", observability.NewNopLogger())
	var cfgErr *store.InvalidConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	lockStore, err := lockservice.NewStore(ctx, StoreName, sqliteConfig(t), observability.NewNopLogger())
	require.NoError(t, err)
	defer lockStore.Close()

	svc := lockservice.New(lockStore, time.Minute, observability.NewNopLogger())
	result, err := svc.AcquireLock(ctx, 42, lockservice.User{ID: 1, Name: "Ada", Email: "ada@example.org"})
	require.NoError(t, err)
	assert.True(t, result.Acquired)

	holder, err := svc.CheckLock(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, int64(1), holder.UserID)

	released, err := svc.ReleaseLock(ctx, 42, 1)
	require.NoError(t, err)
	assert.True(t, released)
}
