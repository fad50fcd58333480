// internal/lockservice/callbacks.go
package lockservice

import "context"

// ReleaseReason says why a lock record left the store.
type ReleaseReason string

const (
	ReasonReleased ReleaseReason = "released"
	ReasonForced   ReleaseReason = "forced"
	ReasonExpired  ReleaseReason = "expired"
	ReasonLogout   ReleaseReason = "logout"
)

// Callbacks defines the interface for lock change notifications.
// Implementations are called synchronously after the store write succeeded
// and must not block.
type Callbacks interface {
	// OnLockAcquired is called when a user takes a lock that was free or expired
	OnLockAcquired(ctx context.Context, conferenceID int64, lock *LockRecord)

	// OnLockReleased is called when a held lock record is removed
	OnLockReleased(ctx context.Context, conferenceID int64, lock *LockRecord, reason ReleaseReason)
}

// NoOpCallbacks implements Callbacks with empty methods
// Useful as a default when no callbacks are provided
type NoOpCallbacks struct{}

// OnLockAcquired implements Callbacks.OnLockAcquired with an empty method
func (NoOpCallbacks) OnLockAcquired(context.Context, int64, *LockRecord) {}

// OnLockReleased implements Callbacks.OnLockReleased with an empty method
func (NoOpCallbacks) OnLockReleased(context.Context, int64, *LockRecord, ReleaseReason) {}
