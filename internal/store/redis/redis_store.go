// internal/store/redis/redis_store.go
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store"
	"github.com/redis/go-redis/v9"
)

// Error definitions
var (
	ErrConfigOptionMissing = errors.New("Redis requires a config option")
)

// StoreName is the registered name of the Redis store
const StoreName = "redis"

const scanBatch = 100

var (
	compareAndSwapScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	if tonumber(ARGV[3]) > 0 then
		redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	else
		redis.call("SET", KEYS[1], ARGV[2])
	end
	return 1
end
return 0
`)

	compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// Register the Redis store with the lockservice package
func init() {
	lockservice.Register(StoreName, newStore)
}

// newStore creates a new Redis store instance from configuration
func newStore(ctx context.Context, options lockservice.Config, logger *observability.SLogger) (store.LockStore, error) {
	cfg, ok := options.(*RedisConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Store: StoreName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// Store implements store.LockStore on Redis strings and sets
type Store struct {
	client    *redis.Client
	l         *observability.SLogger
	keyPrefix string
	config    *RedisConfig
}

// New creates a new Redis store with the provided configuration
func New(ctx context.Context, config *RedisConfig, logger *observability.SLogger) (*Store, error) {
	if config == nil {
		return nil, ErrConfigOptionMissing
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.addr(),
		Password:     config.Password,
		DB:           config.DB,
		ReadTimeout:  config.OperationTimeout,
		WriteTimeout: config.OperationTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Errorf("Error connecting to Redis: %v", err)
		_ = client.Close()
		return nil, store.Unreachable("connect", err)
	}

	return &Store{
		client:    client,
		l:         logger,
		keyPrefix: config.KeyPrefix,
		config:    config,
	}, nil
}

// GetConfig returns the current store configuration
func (s *Store) GetConfig() store.StoreConfig {
	return s.config
}

func (s *Store) key(k string) string {
	if s.keyPrefix == "" {
		return k
	}
	return s.keyPrefix + ":" + k
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, store.Unreachable("get", err)
	}
	return value, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, store.Unreachable("put if absent", err)
	}
	return ok, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	n, err := compareAndSwapScript.Run(ctx, s.client, []string{s.key(key)}, old, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, store.Unreachable("compare and swap", err)
	}
	return n == 1, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{s.key(key)}, old).Int64()
	if err != nil {
		return false, store.Unreachable("compare and delete", err)
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return store.Unreachable("delete", err)
	}
	return nil
}

// Scan walks the keyspace with SCAN and fetches each page with MGET.
// Keys that disappear between the two calls are skipped.
func (s *Store) Scan(ctx context.Context, prefix string) ([]store.Entry, error) {
	match := escapeGlob(s.key(prefix)) + "*"
	entries := make([]store.Entry, 0)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, store.Unreachable("scan", err)
		}

		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, store.Unreachable("scan", err)
			}
			for i, v := range values {
				str, ok := v.(string)
				if !ok {
					continue
				}
				entries = append(entries, store.Entry{
					Key:   strings.TrimPrefix(keys[i], s.key("")),
					Value: []byte(str),
				})
			}
		}

		cursor = next
		if cursor == 0 {
			return entries, nil
		}
	}
}

func (s *Store) AddToIndex(ctx context.Context, index, member string) error {
	if err := s.client.SAdd(ctx, s.key(index), member).Err(); err != nil {
		return store.Unreachable("add to index", err)
	}
	return nil
}

func (s *Store) RemoveFromIndex(ctx context.Context, index, member string) error {
	if err := s.client.SRem(ctx, s.key(index), member).Err(); err != nil {
		return store.Unreachable("remove from index", err)
	}
	return nil
}

func (s *Store) IndexMembers(ctx context.Context, index string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key(index)).Result()
	if err != nil {
		return nil, store.Unreachable("index members", err)
	}
	return members, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return store.Unreachable("ping", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *Store) Close() {
	if err := s.client.Close(); err != nil {
		s.l.Errorf("Error closing Redis connection: %v", err)
	}
}

func escapeGlob(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
