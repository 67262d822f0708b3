package dialogue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpirySweeper periodically force-expires sessions that outlived their
// time limit. Expiry is otherwise checked lazily on each turn, so a
// session that stops receiving turns would never formally expire; the
// sweeper closes that gap. It is optional and enabled via config.
type ExpirySweeper struct {
	store    Store
	interval time.Duration
	metrics  Metrics
	logger   *zap.Logger
}

// NewExpirySweeper creates a sweeper with the given scan interval.
func NewExpirySweeper(store Store, interval time.Duration, logger *zap.Logger) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		store:    store,
		interval: interval,
		metrics:  nopMetrics{},
		logger:   logger.With(zap.String("component", "expiry_sweeper")),
	}
}

// WithMetrics attaches an instrumentation sink and returns the sweeper.
func (s *ExpirySweeper) WithMetrics(metrics Metrics) *ExpirySweeper {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// Start runs the sweep loop until ctx is canceled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sweep(ctx); n > 0 {
					s.logger.Info("expired stale sessions", zap.Int("count", n))
				}
			}
		}
	}()
}

func (s *ExpirySweeper) sweep(ctx context.Context) int {
	sessions, err := s.store.ListActiveSessions(ctx)
	if err != nil {
		s.logger.Warn("sweep failed to list sessions", zap.Error(err))
		return 0
	}

	now := time.Now().UTC()
	expired := 0
	for _, session := range sessions {
		if !session.Expired(now) {
			continue
		}
		session.Status = StatusExpired
		session.Outcome = "time_limit_exceeded"
		completed := now
		session.CompletedAt = &completed
		if err := s.store.UpdateSession(ctx, session); err != nil {
			s.logger.Warn("failed to expire session",
				zap.String("session_id", session.ID),
				zap.Error(err),
			)
			continue
		}
		s.metrics.RecordSessionFinished(string(StatusExpired), session.Outcome)
		expired++
	}
	return expired
}
