// Package sweeper cancels orders that stayed pending for too long and returns
// their reserved stock.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const batchSize = 50

type Expirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type Sweeper struct {
	orders   Expirer
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	expired  metric.Int64Counter
}

func New(orders Expirer, ttl, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	expired, err := otel.Meter("storefront/sweeper").Int64Counter("checkout.pending.expired",
		metric.WithDescription("Pending orders cancelled after their payment window closed"))
	if err != nil {
		return nil, err
	}

	return &Sweeper{
		orders:   orders,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		expired:  expired,
	}, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("pending order sweep failed", "error", err)
			}
		}
	}
}

// Sweep cancels expired pending orders in batches until none are left.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	total := 0

	for {
		ids, err := s.orders.ExpirePending(ctx, cutoff, batchSize)
		total += len(ids)
		for _, id := range ids {
			s.logger.Info("cancelled expired pending order", "order_id", id)
		}
		if len(ids) > 0 {
			s.expired.Add(ctx, int64(len(ids)))
		}
		if err != nil {
			return total, err
		}
		if len(ids) < batchSize {
			return total, nil
		}
	}
}
