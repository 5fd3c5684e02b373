package orders

import (
	"context"
	"time"

	"github.com/safar/go-order-core/internal/models"
	"go.uber.org/zap"
)

// Sweeper cancels orders left pending longer than the TTL and returns their stock. Several
// sweepers may run against one Postgres database; claimed rows are skipped by the others.
type Sweeper struct {
	svc       *Service
	ttl       time.Duration
	interval  time.Duration
	batchSize int
	logger    *zap.Logger

	// Now is the sweeper's clock; tests may replace it.
	Now func() time.Time
}

func NewSweeper(svc *Service, ttl, interval time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		svc:       svc,
		ttl:       ttl,
		interval:  interval,
		batchSize: batchSize,
		logger:    svc.logger.Named("sweeper"),
		Now:       time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("pending order sweeper started",
		zap.Duration("ttl", s.ttl),
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pending order sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep pending orders", zap.Error(err))
			}
		}
	}
}

// SweepOnce cancels expired pending orders until a batch comes back short and returns how
// many it cancelled.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.Now().Add(-s.ttl)
	total := 0

	for {
		expired, err := s.svc.orders.CancelExpiredPending(ctx, cutoff, s.batchSize)
		if err != nil {
			return total, err
		}

		for i := range expired {
			order := &expired[i]
			if err := s.svc.onStatusChanged(ctx, order, models.OrderStatusPending); err != nil {
				s.logger.Error("release expired order", zap.Int64("order_id", order.ID), zap.Error(err))
			}
		}
		total += len(expired)

		if len(expired) > 0 {
			s.logger.Info("expired pending orders cancelled", zap.Int("count", len(expired)))
		}
		if len(expired) < s.batchSize || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}
