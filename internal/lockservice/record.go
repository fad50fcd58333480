// internal/lockservice/record.go
package lockservice

import (
	"strconv"
	"strings"
	"time"
)

const (
	lockKeyPrefix   = "lock:"
	userIndexPrefix = "locks-by-user:"

	// DefaultTimeout is the lock lifetime used when none is configured.
	DefaultTimeout = 30 * time.Minute
)

// User is the identity snapshot stored with a lock.
type User struct {
	ID    int64
	Name  string
	Email string
}

// LockRecord is the claim one user holds on editing one conference.
// Name and email are copied at acquire or refresh time.
type LockRecord struct {
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	UserEmail string    `json:"user_email"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is no longer held at now.
func (r *LockRecord) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.LockedAt) >= timeout
}

// AcquireResult is the outcome of AcquireLock. When Acquired is false, Lock
// is the record of the user currently holding the conference.
type AcquireResult struct {
	Acquired bool
	Lock     *LockRecord
}

// UserLock pairs a conference with the lock a user holds on it.
type UserLock struct {
	ConferenceID int64       `json:"conference_id"`
	Lock         *LockRecord `json:"lock_info"`
}

func newRecord(u User, now time.Time, timeout time.Duration) *LockRecord {
	return &LockRecord{
		UserID:    u.ID,
		UserName:  u.Name,
		UserEmail: u.Email,
		LockedAt:  now,
		ExpiresAt: now.Add(timeout),
	}
}

func lockKey(conferenceID int64) string {
	return lockKeyPrefix + strconv.FormatInt(conferenceID, 10)
}

func conferenceFromKey(key string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(key, lockKeyPrefix), 10, 64)
	return id, err == nil
}

func userIndex(userID int64) string {
	return userIndexPrefix + strconv.FormatInt(userID, 10)
}
