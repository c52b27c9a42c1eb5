// Package sweeper expires stale sessions. The external platform owns
// session cleanup in production, but the watcher's expiry events need a
// producer in self-contained deployments, so a periodic sweep walks every
// session past its expiresAt and applies the expired transition for it.
package sweeper

import (
	"context"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/metrics"
	"github.com/rcowellai/recording-app-sub000/internal/session"
)

// Repository is the slice of the session store the sweeper needs.
type Repository interface {
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*session.Session, error)
	ConditionalUpdate(ctx context.Context, sessionID string, fromExpected, newStatus session.Status, patch session.Patch) error
}

// Notifier pokes watchers after a session expires. Nil disables it.
type Notifier interface {
	Notify(ctx context.Context, sessionID string)
}

// Stats summarizes one sweep.
type Stats struct {
	Expired   int
	Conflicts int
	Errors    int
}

// Sweeper applies the expired transition to sessions past their expiresAt.
type Sweeper struct {
	repo      Repository
	notifier  Notifier
	batchSize int
	clock     session.Clock
}

// New constructs a Sweeper. batchSize bounds one sweep's work; clock
// defaults to the system clock.
func New(repo Repository, notifier Notifier, batchSize int, clock session.Clock) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if clock == nil {
		clock = session.SystemClock
	}
	return &Sweeper{repo: repo, notifier: notifier, batchSize: batchSize, clock: clock}
}

// Run performs one sweep. Each expiry is a conditional transition keyed on
// the status the sweep observed; a session a tab is concurrently moving
// simply loses this round and is retried on the next sweep.
func (s *Sweeper) Run(ctx context.Context) (*Stats, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	stats := &Stats{}

	for {
		sessions, err := s.repo.ListExpiredSessions(ctx, s.clock.Now(), s.batchSize)
		if err != nil {
			return stats, err
		}
		if len(sessions) == 0 {
			break
		}

		for _, sess := range sessions {
			err := s.repo.ConditionalUpdate(ctx, sess.SessionID, sess.Status, session.StatusExpired, session.Patch{})
			switch {
			case err == nil:
				stats.Expired++
				metrics.RecordSessionExpired()
				if s.notifier != nil {
					s.notifier.Notify(ctx, sess.SessionID)
				}
			case apperror.Is(err, apperror.ErrConcurrentTransition):
				stats.Conflicts++
			default:
				stats.Errors++
				log.Warn("failed to expire session", "session_id", sess.SessionID, "error", err)
			}
		}

		if len(sessions) < s.batchSize {
			break
		}
	}

	log.Info("expiry sweep completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"expired", stats.Expired,
		"conflicts", stats.Conflicts,
		"errors", stats.Errors,
	)
	return stats, nil
}

// RunPeriodic sweeps on the given interval until ctx is cancelled.
func (s *Sweeper) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				logger.FromContext(ctx).Error("expiry sweep failed", "error", err)
			}
		}
	}
}
