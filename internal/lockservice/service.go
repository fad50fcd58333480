// internal/lockservice/service.go
package lockservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/store"
)

// maxAttempts bounds how often an operation re-reads a record after losing a
// conditional write to a concurrent caller.
const maxAttempts = 3

var (
	// ErrStoreUnavailable is returned when the lock store failed or could not
	// be reached. Callers must not read it as "unlocked".
	ErrStoreUnavailable = errors.New("lock store unavailable")

	// ErrLockContended is returned when every conditional write attempt lost
	// a race with another writer.
	ErrLockContended = errors.New("lock record contended")
)

// Service implements per-conference editing locks on top of a store.LockStore.
type Service struct {
	store     store.LockStore
	timeout   atomic.Int64
	now       func() time.Time
	logger    *observability.SLogger
	metrics   observability.MetricsClient
	callbacks Callbacks
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records lock outcomes on m.
func WithMetrics(m observability.MetricsClient) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCallbacks sets the lock change listener.
func WithCallbacks(cb Callbacks) Option {
	return func(s *Service) { s.callbacks = cb }
}

// New creates a lock service. A non-positive timeout selects DefaultTimeout.
func New(lockStore store.LockStore, timeout time.Duration, logger *observability.SLogger, opts ...Option) *Service {
	s := &Service{
		store:     lockStore,
		now:       time.Now,
		logger:    logger,
		metrics:   observability.NoopMetrics{},
		callbacks: NoOpCallbacks{},
	}
	s.SetTimeout(timeout)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTimeout changes the lock lifetime for subsequent operations.
func (s *Service) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s.timeout.Store(int64(timeout))
}

// Timeout returns the current lock lifetime.
func (s *Service) Timeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

// Ping checks the underlying store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// AcquireLock takes the lock on conferenceID for user. A lock already held by
// user is refreshed. A valid lock held by someone else is returned unchanged
// with Acquired set to false.
func (s *Service) AcquireLock(ctx context.Context, conferenceID int64, user User) (*AcquireResult, error) {
	key := lockKey(conferenceID)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		now := s.now()
		timeout := s.Timeout()

		current, raw, err := s.read(ctx, key)
		if err != nil {
			return nil, err
		}

		if current != nil && current.UserID != user.ID && !current.Expired(now, timeout) {
			s.metrics.Increment(ctx, "lock.acquire", 1, "result", "conflict")
			return &AcquireResult{Acquired: false, Lock: current}, nil
		}

		fresh := newRecord(user, now, timeout)
		value, err := json.Marshal(fresh)
		if err != nil {
			return nil, fmt.Errorf("encode lock record: %w", err)
		}

		// The index is written first so it always covers the primary records.
		if err := s.store.AddToIndex(ctx, userIndex(user.ID), strconv.FormatInt(conferenceID, 10)); err != nil {
			return nil, unavailable("index lock", err)
		}

		var written bool
		if current == nil {
			written, err = s.store.PutIfAbsent(ctx, key, value, timeout)
		} else {
			written, err = s.store.CompareAndSwap(ctx, key, raw, value, timeout)
		}
		if err != nil {
			return nil, unavailable("write lock", err)
		}
		if !written {
			s.logger.Debugw("Lost race writing lock record, retrying", "conference_id", conferenceID, "attempt", attempt+1)
			continue
		}

		switch {
		case current == nil:
			s.callbacks.OnLockAcquired(ctx, conferenceID, fresh)
		case current.UserID != user.ID:
			s.unindex(ctx, current.UserID, conferenceID)
			s.callbacks.OnLockReleased(ctx, conferenceID, current, ReasonExpired)
			s.callbacks.OnLockAcquired(ctx, conferenceID, fresh)
		case current.Expired(now, timeout):
			s.callbacks.OnLockAcquired(ctx, conferenceID, fresh)
		}

		s.metrics.Increment(ctx, "lock.acquire", 1, "result", "acquired")
		s.logger.InfoCtx(ctx, "Lock acquired", "conference_id", conferenceID, "user_id", user.ID)
		return &AcquireResult{Acquired: true, Lock: fresh}, nil
	}

	return nil, fmt.Errorf("acquire conference %d: %w", conferenceID, ErrLockContended)
}

// ReleaseLock removes the lock on conferenceID if userID holds it.
// It returns false when there is no record or another user owns it.
func (s *Service) ReleaseLock(ctx context.Context, conferenceID, userID int64) (bool, error) {
	key := lockKey(conferenceID)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, raw, err := s.read(ctx, key)
		if err != nil {
			return false, err
		}
		if current == nil || current.UserID != userID {
			return false, nil
		}

		deleted, err := s.store.CompareAndDelete(ctx, key, raw)
		if err != nil {
			return false, unavailable("release lock", err)
		}
		if !deleted {
			continue
		}

		s.unindex(ctx, userID, conferenceID)
		reason := ReasonReleased
		if current.Expired(s.now(), s.Timeout()) {
			reason = ReasonExpired
		}
		s.callbacks.OnLockReleased(ctx, conferenceID, current, reason)
		s.logger.InfoCtx(ctx, "Lock released", "conference_id", conferenceID, "user_id", userID)
		return true, nil
	}

	return false, fmt.Errorf("release conference %d: %w", conferenceID, ErrLockContended)
}

// RefreshLock extends the lock on conferenceID if userID holds it and it has
// not expired. An expired record is removed and reported as not held.
func (s *Service) RefreshLock(ctx context.Context, conferenceID, userID int64) (bool, error) {
	key := lockKey(conferenceID)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		now := s.now()
		timeout := s.Timeout()

		current, raw, err := s.read(ctx, key)
		if err != nil {
			return false, err
		}
		if current == nil || current.UserID != userID {
			return false, nil
		}
		if current.Expired(now, timeout) {
			if err := s.expire(ctx, conferenceID, current, raw); err != nil {
				return false, err
			}
			return false, nil
		}

		refreshed := *current
		refreshed.LockedAt = now
		refreshed.ExpiresAt = now.Add(timeout)
		value, err := json.Marshal(&refreshed)
		if err != nil {
			return false, fmt.Errorf("encode lock record: %w", err)
		}

		swapped, err := s.store.CompareAndSwap(ctx, key, raw, value, timeout)
		if err != nil {
			return false, unavailable("refresh lock", err)
		}
		if swapped {
			return true, nil
		}
	}

	return false, fmt.Errorf("refresh conference %d: %w", conferenceID, ErrLockContended)
}

// CheckLock returns the valid lock on conferenceID, or nil when the conference
// is unlocked. An expired record found here is deleted.
func (s *Service) CheckLock(ctx context.Context, conferenceID int64) (*LockRecord, error) {
	current, raw, err := s.read(ctx, lockKey(conferenceID))
	if err != nil || current == nil {
		return nil, err
	}

	if current.Expired(s.now(), s.Timeout()) {
		return nil, s.expire(ctx, conferenceID, current, raw)
	}
	return current, nil
}

// ForceReleaseLock deletes the lock on conferenceID whoever holds it.
// Authorization is the caller's job.
func (s *Service) ForceReleaseLock(ctx context.Context, conferenceID int64) (bool, error) {
	key := lockKey(conferenceID)

	current, _, err := s.read(ctx, key)
	if err != nil {
		return false, err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return false, unavailable("force release lock", err)
	}

	if current != nil {
		s.unindex(ctx, current.UserID, conferenceID)
		s.callbacks.OnLockReleased(ctx, conferenceID, current, ReasonForced)
		s.logger.InfoCtx(ctx, "Lock force released", "conference_id", conferenceID, "user_id", current.UserID)
	}
	return true, nil
}

// ReleaseAllUserLocks deletes every lock record owned by userID and returns
// how many this call removed.
func (s *Service) ReleaseAllUserLocks(ctx context.Context, userID int64) (int, error) {
	conferences, err := s.indexedConferences(ctx, userID)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, conferenceID := range conferences {
		current, raw, err := s.read(ctx, lockKey(conferenceID))
		if err != nil {
			return released, err
		}
		if current == nil || current.UserID != userID {
			s.unindex(ctx, userID, conferenceID)
			continue
		}

		deleted, err := s.store.CompareAndDelete(ctx, lockKey(conferenceID), raw)
		if err != nil {
			return released, unavailable("release user lock", err)
		}
		if deleted {
			released++
			s.unindex(ctx, userID, conferenceID)
			s.callbacks.OnLockReleased(ctx, conferenceID, current, ReasonLogout)
		}
	}

	s.logger.InfoCtx(ctx, "Released user locks", "user_id", userID, "count", released)
	return released, nil
}

// GetUserLocks lists the valid locks held by userID ordered by conference.
func (s *Service) GetUserLocks(ctx context.Context, userID int64) ([]UserLock, error) {
	conferences, err := s.indexedConferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	timeout := s.Timeout()
	locks := make([]UserLock, 0, len(conferences))
	for _, conferenceID := range conferences {
		current, raw, err := s.read(ctx, lockKey(conferenceID))
		if err != nil {
			return nil, err
		}
		if current == nil || current.UserID != userID {
			s.unindex(ctx, userID, conferenceID)
			continue
		}
		if current.Expired(now, timeout) {
			if err := s.expire(ctx, conferenceID, current, raw); err != nil {
				return nil, err
			}
			continue
		}
		locks = append(locks, UserLock{ConferenceID: conferenceID, Lock: current})
	}

	sort.Slice(locks, func(i, j int) bool { return locks[i].ConferenceID < locks[j].ConferenceID })
	return locks, nil
}

// CleanupExpiredLocks scans every lock record and deletes the expired ones,
// returning how many this call removed.
func (s *Service) CleanupExpiredLocks(ctx context.Context) (int, error) {
	entries, err := s.store.Scan(ctx, lockKeyPrefix)
	if err != nil {
		return 0, unavailable("scan locks", err)
	}

	now := s.now()
	timeout := s.Timeout()
	removed := 0
	for _, entry := range entries {
		conferenceID, ok := conferenceFromKey(entry.Key)
		if !ok {
			continue
		}

		record := s.decode(entry.Key, entry.Value)
		if !record.Expired(now, timeout) {
			continue
		}

		deleted, err := s.store.CompareAndDelete(ctx, entry.Key, entry.Value)
		if err != nil {
			return removed, unavailable("delete expired lock", err)
		}
		if deleted {
			removed++
			s.unindex(ctx, record.UserID, conferenceID)
			s.callbacks.OnLockReleased(ctx, conferenceID, record, ReasonExpired)
		}
	}

	if removed > 0 {
		s.logger.InfoCtx(ctx, "Cleaned up expired locks", "count", removed)
	}
	s.metrics.Increment(ctx, "lock.expired", int64(removed))
	return removed, nil
}

// read loads and decodes the record under key. A missing record yields nil
// without error.
func (s *Service) read(ctx context.Context, key string) (*LockRecord, []byte, error) {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, unavailable("read lock", err)
	}
	return s.decode(key, raw), raw, nil
}

// decode returns a zero record for undecodable bytes. A zero record is always
// expired and gets replaced or removed like any other stale lock.
func (s *Service) decode(key string, raw []byte) *LockRecord {
	var record LockRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		s.logger.Warnw("Discarding undecodable lock record", "key", key, "error", err)
		return &LockRecord{}
	}
	return &record
}

// expire deletes an expired record unless it changed since it was read.
func (s *Service) expire(ctx context.Context, conferenceID int64, record *LockRecord, raw []byte) error {
	deleted, err := s.store.CompareAndDelete(ctx, lockKey(conferenceID), raw)
	if err != nil {
		return unavailable("expire lock", err)
	}
	if deleted {
		s.unindex(ctx, record.UserID, conferenceID)
		s.callbacks.OnLockReleased(ctx, conferenceID, record, ReasonExpired)
	}
	return nil
}

func (s *Service) indexedConferences(ctx context.Context, userID int64) ([]int64, error) {
	members, err := s.store.IndexMembers(ctx, userIndex(userID))
	if err != nil {
		return nil, unavailable("read user index", err)
	}

	conferences := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			s.removeIndexMember(ctx, userID, member)
			continue
		}
		conferences = append(conferences, id)
	}
	sort.Slice(conferences, func(i, j int) bool { return conferences[i] < conferences[j] })
	return conferences, nil
}

// unindex drops conferenceID from the user's index. If the same user locked
// the conference again after the record was removed, the member is put back
// so bulk release still finds it. Failures only leave a stale member behind,
// which later reads prune.
func (s *Service) unindex(ctx context.Context, userID, conferenceID int64) {
	member := strconv.FormatInt(conferenceID, 10)
	s.removeIndexMember(ctx, userID, member)

	current, _, err := s.read(ctx, lockKey(conferenceID))
	if err != nil || current == nil || current.UserID != userID || current.Expired(s.now(), s.Timeout()) {
		return
	}
	if err := s.store.AddToIndex(ctx, userIndex(userID), member); err != nil {
		s.logger.WarnCtx(ctx, "Failed to restore user lock index", "user_id", userID, "member", member, "error", err)
	}
}

func (s *Service) removeIndexMember(ctx context.Context, userID int64, member string) {
	if err := s.store.RemoveFromIndex(ctx, userIndex(userID), member); err != nil {
		s.logger.WarnCtx(ctx, "Failed to prune user lock index", "user_id", userID, "member", member, "error", err)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
