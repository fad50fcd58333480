// internal/lockservice/sweeper.go
package lockservice

import (
	"context"
	"time"

	"github.com/avivl/conference-lock/internal/observability"
)

// Sweeper periodically removes expired lock records.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *observability.SLogger
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(service *Service, interval time.Duration, logger *observability.SLogger) *Sweeper {
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled. A non-positive interval disables sweeping.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.service.CleanupExpiredLocks(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorCtx(ctx, err, "msg", "expired lock sweep failed")
			}
		}
	}
}
