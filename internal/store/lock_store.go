// internal/store/lock_store.go
package store

import (
	"context"
	"time"
)

// Entry is a single key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// LockStore is the key-value substrate the lock service coordinates through.
// Every method is atomic per key; no method spans more than one key atomically.
type LockStore interface {
	// Get returns the value stored under key or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// PutIfAbsent stores value only when key holds nothing.
	// Returns true if the value was written.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value under key only if it still equals old,
	// resetting the TTL. Returns true if the value was written.
	CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only if its value still equals old.
	CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns every live entry whose key starts with prefix.
	Scan(ctx context.Context, prefix string) ([]Entry, error)

	// AddToIndex adds member to the named set.
	AddToIndex(ctx context.Context, index, member string) error

	// RemoveFromIndex removes member from the named set.
	RemoveFromIndex(ctx context.Context, index, member string) error

	// IndexMembers lists the members of the named set.
	IndexMembers(ctx context.Context, index string) ([]string, error)

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	// Close releases resources held by the store
	Close()

	// GetConfig returns the current store configuration
	GetConfig() StoreConfig
}
