// Package sweeper retires bookings whose window has ended.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"adslot/internal/availability"
	"adslot/internal/db"
	"adslot/internal/logger"
	"adslot/internal/metrics"
	"adslot/internal/slot"

	"go.uber.org/zap"
)

const DefaultInterval = time.Hour

type Sweeper struct {
	repo     slot.Repository
	db       db.Querier
	cache    availability.Invalidator
	interval time.Duration
	now      func() time.Time
	log      *zap.SugaredLogger
}

func New(repo slot.Repository, q db.Querier, cache availability.Invalidator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		repo:     repo,
		db:       q,
		cache:    cache,
		interval: interval,
		now:      time.Now,
		log:      logger.Named("sweeper"),
	}
}

// RunOnce deactivates expired bookings. The whole availability cache is
// dropped only when something changed, so an idle sweep is a no-op.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	slotTypes, err := s.repo.DeactivateExpired(ctx, s.db, s.now())
	if err != nil {
		return 0, fmt.Errorf("deactivate expired: %w", err)
	}

	n := len(slotTypes)
	metrics.RecordSweep(n)
	if n == 0 {
		return 0, nil
	}

	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.log.Warnw("cache invalidation after sweep failed", "error", err)
	}
	s.log.Infow("expired bookings deactivated", "count", n, "slot_types", distinct(slotTypes))
	return n, nil
}

// Run sweeps once immediately and then on every tick until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Infow("sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Errorw("sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func distinct(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
