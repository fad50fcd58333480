// internal/events/notifier.go
package events

import (
	"context"
	"time"

	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
)

const defaultQueueSize = 256

// Notifier turns lock callbacks into events and hands them to every
// publisher from a single worker. Callbacks only enqueue; when the queue is
// full the event is dropped and logged.
type Notifier struct {
	publishers []Publisher
	queue      chan Event
	timeout    time.Duration
	now        func() time.Time
	metrics    observability.MetricsClient
	l          *observability.SLogger
}

var _ lockservice.Callbacks = (*Notifier)(nil)

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithQueueSize sets how many events may wait for delivery.
func WithQueueSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan Event, size)
		}
	}
}

// WithNotifierClock replaces time.Now for OccurredAt.
func WithNotifierClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) { n.now = now }
}

// WithNotifierMetrics counts delivered and failed events.
func WithNotifierMetrics(m observability.MetricsClient) NotifierOption {
	return func(n *Notifier) { n.metrics = m }
}

// NewNotifier creates a notifier delivering to publishers.
func NewNotifier(l *observability.SLogger, publishers []Publisher, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		publishers: publishers,
		queue:      make(chan Event, defaultQueueSize),
		timeout:    5 * time.Second,
		now:        time.Now,
		metrics:    observability.NoopMetrics{},
		l:          l,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) OnLockAcquired(ctx context.Context, conferenceID int64, lock *lockservice.LockRecord) {
	n.enqueue(ctx, Event{
		Type:         TypeLockAcquired,
		ConferenceID: conferenceID,
		Lock:         lock,
		OccurredAt:   n.now(),
	})
}

func (n *Notifier) OnLockReleased(ctx context.Context, conferenceID int64, lock *lockservice.LockRecord, reason lockservice.ReleaseReason) {
	n.enqueue(ctx, Event{
		Type:         TypeLockReleased,
		ConferenceID: conferenceID,
		Lock:         lock,
		Reason:       reason,
		OccurredAt:   n.now(),
	})
}

func (n *Notifier) enqueue(ctx context.Context, event Event) {
	select {
	case n.queue <- event:
	default:
		n.l.WarnCtx(ctx, "Lock event queue full, dropping event", "type", event.Type, "conference_id", event.ConferenceID)
		n.metrics.Increment(ctx, "events.dropped", 1, "type", string(event.Type))
	}
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued and closes the publishers.
func (n *Notifier) Run(ctx context.Context) error {
	defer n.closePublishers()
	for {
		select {
		case event := <-n.queue:
			n.deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-n.queue:
					n.deliver(event)
				default:
					return nil
				}
			}
		}
	}
}

func (n *Notifier) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	for _, p := range n.publishers {
		if err := p.Publish(ctx, event); err != nil {
			n.l.Errorw("Failed to publish lock event", "type", event.Type, "conference_id", event.ConferenceID, "error", err)
			n.metrics.Increment(ctx, "events.failed", 1, "type", string(event.Type))
			continue
		}
		n.metrics.Increment(ctx, "events.published", 1, "type", string(event.Type))
	}
}

func (n *Notifier) closePublishers() {
	for _, p := range n.publishers {
		if err := p.Close(); err != nil {
			n.l.Errorf("Error closing event publisher: %v", err)
		}
	}
}
