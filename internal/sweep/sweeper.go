// Package sweep is the background housekeeping loop.
//
// The sweeper runs as a goroutine on startup. A ticker fires every N minutes
// (from config). Each cycle clears server-side sessions whose expiry has
// passed and, when pending logins are kept in process memory, drops the
// abandoned ones. Admin actions can request an immediate cycle through
// ForceSweep.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/logging"
)

// SessionExpirer clears persisted sessions that expired before now.
type SessionExpirer interface {
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)
}

// StatePurger drops pending login states older than their retention window.
// Only the in-memory state store needs it; Redis expires keys on its own.
type StatePurger interface {
	Purge(now time.Time) int
}

// Sweeper is the background housekeeping worker.
type Sweeper struct {
	sessions SessionExpirer
	states   StatePurger // nil when the state store expires entries itself
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time // injectable for testing; defaults to time.Now
	force    chan struct{}
}

// New creates a Sweeper. states may be nil.
func New(sessions SessionExpirer, states StatePurger, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		states:   states,
		interval: interval,
		logger:   logging.OrNop(logger).Named("sweep"),
		now:      time.Now,
		force:    make(chan struct{}, 1),
	}
}

// Run starts the sweep loop and blocks until ctx is cancelled.
// Intended to be called in a goroutine:
//
//	go sweeper.Run(ctx)
//
// An initial cycle runs immediately so sessions that expired while the
// server was down are cleared before the first tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.force:
			s.runCycle(ctx)
		}
	}
}

// ForceSweep signals the sweeper to run a cycle immediately. Safe to call
// from any goroutine. If a cycle is already pending the signal is discarded.
func (s *Sweeper) ForceSweep() {
	select {
	case s.force <- struct{}{}:
	default:
	}
}

// runCycle performs one housekeeping pass. Errors are logged and the next
// tick retries.
func (s *Sweeper) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.now()

	n, err := s.sessions.ExpireSessions(ctx, now)
	if err != nil {
		s.logger.Error("expiring sessions", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("expired sessions cleared", zap.Int64("count", n))
	}

	if s.states != nil {
		if purged := s.states.Purge(now); purged > 0 {
			s.logger.Debug("abandoned login states purged", zap.Int("count", purged))
		}
	}
}
