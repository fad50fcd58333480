// internal/events/event.go
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avivl/conference-lock/internal/lockservice"
)

// Type names a lock change.
type Type string

const (
	TypeLockAcquired Type = "lock.acquired"
	TypeLockReleased Type = "lock.released"
)

// Event is the payload delivered to every publisher.
type Event struct {
	Type         Type                      `json:"type"`
	ConferenceID int64                     `json:"conference_id"`
	Lock         *lockservice.LockRecord   `json:"lock_info,omitempty"`
	Reason       lockservice.ReleaseReason `json:"reason,omitempty"`
	OccurredAt   time.Time                 `json:"occurred_at"`
}

// Publisher delivers events to one transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

func encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}
