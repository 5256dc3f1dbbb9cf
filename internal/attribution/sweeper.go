package attribution

import (
	"context"
	"time"

	"github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

// Sweeper periodically expires pending records that outlived their usefulness.
type Sweeper struct {
	store    PendingStore
	logger   *logging.Logger
	metrics  *metrics.AttributionMetrics
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(store PendingStore, maxAge time.Duration, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		maxAge:   maxAge,
		interval: 5 * time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) WithInterval(interval time.Duration) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.AttributionMetrics) *Sweeper {
	s.metrics = m
	return s
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.store == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires stale pending records once and returns how many changed.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.store.ExpirePending(ctx, cutoff)
	if err != nil {
		s.logger.Error("pending expiry sweep failed", "error", err)
		return 0
	}
	s.metrics.ObservePendingExpired(n)
	if n > 0 {
		s.logger.Info("expired stale pending attributions", "count", n, "cutoff", cutoff)
	}
	return n
}
