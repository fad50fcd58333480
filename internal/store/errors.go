// internal/store/errors.go
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReachable is returned when the backend cannot be reached for issuing common store operations.
	ErrNotReachable = errors.New("store not reachable")
	// ErrKeyNotFound is returned when the key is not found in the store during a Get operation.
	ErrKeyNotFound = errors.New("key not found in store")
)

// Unreachable wraps a backend failure so callers can match it with ErrNotReachable.
func Unreachable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNotReachable, err)
}

// InvalidConfigurationError is returned when the type of the configuration is not supported by a store.
type InvalidConfigurationError struct {
	Store  string
	Config any
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("%s: invalid configuration type: %T", e.Store, e.Config)
}

// UnknownConstructorError is returned when a requested store is not registered.
type UnknownConstructorError struct {
	Store string
}

func (e UnknownConstructorError) Error() string {
	return fmt.Sprintf("unknown constructor %q (forgotten import?)", e.Store)
}
