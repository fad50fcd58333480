// internal/store/memory/memory_store.go
package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store"
)

// StoreName is the registered name of the in-process store
const StoreName = "memory"

func init() {
	lockservice.Register(StoreName, newStore)
}

func newStore(_ context.Context, options lockservice.Config, logger *observability.SLogger) (store.LockStore, error) {
	cfg, ok := options.(*MemoryConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Store: StoreName, Config: options}
	}
	if cfg == nil {
		cfg = NewMemoryConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(cfg, logger), nil
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store keeps lock records in process memory. It serves tests and
// single-instance deployments.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	indexes map[string]map[string]struct{}
	now     func() time.Time
	config  *MemoryConfig
	l       *observability.SLogger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for TTL evaluation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(config *MemoryConfig, logger *observability.SLogger, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		indexes: make(map[string]map[string]struct{}),
		now:     time.Now,
		config:  config,
		l:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the entry under key if it exists and its TTL has not run out.
// Callers hold s.mu.
func (s *Store) live(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) put(key string, value []byte, ttl time.Duration) {
	e := entry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return bytes.Clone(e.value), nil
}

func (s *Store) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *Store) CompareAndSwap(_ context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok || !bytes.Equal(e.value, old) {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *Store) CompareAndDelete(_ context.Context, key string, old []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok || !bytes.Equal(e.value, old) {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Scan returns matching entries ordered by key.
func (s *Store) Scan(_ context.Context, prefix string) ([]store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]store.Entry, 0)
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e, ok := s.live(key); ok {
			result = append(result, store.Entry{Key: key, Value: bytes.Clone(e.value)})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *Store) AddToIndex(_ context.Context, index, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.indexes[index]
	if !ok {
		members = make(map[string]struct{})
		s.indexes[index] = members
	}
	members[member] = struct{}{}
	return nil
}

func (s *Store) RemoveFromIndex(_ context.Context, index, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.indexes[index]
	if !ok {
		return nil
	}
	delete(members, member)
	if len(members) == 0 {
		delete(s.indexes, index)
	}
	return nil
}

func (s *Store) IndexMembers(_ context.Context, index string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]string, 0, len(s.indexes[index]))
	for member := range s.indexes[index] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() {}

func (s *Store) GetConfig() store.StoreConfig {
	return s.config
}
