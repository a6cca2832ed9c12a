// Package reaper expires pending reservations whose deadline has passed and
// returns their quantity to available.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/pkg/clock"
	"github.com/xiebiao/stockledger/pkg/metrics"
)

// Expirer settles one overdue reservation. ledger.Manager implements it.
type Expirer interface {
	ExpireReservation(ctx context.Context, id string) (bool, error)
}

// Reaper periodically expires pending reservations whose deadline has passed.
type Reaper struct {
	expirer      Expirer
	reservations reservation.Repository
	clock        clock.Clock
	interval     time.Duration
	batchSize    int
	logger       *zap.Logger
}

// New builds a reaper that scans every interval, batchSize reservations at a
// time. A non-positive batchSize means 100.
func New(expirer Expirer, reservations reservation.Repository, c clock.Clock, interval time.Duration, batchSize int, logger *zap.Logger) *Reaper {
	metrics.InitMetrics()
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reaper{
		expirer:      expirer,
		reservations: reservations,
		clock:        c,
		interval:     interval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started", zap.Duration("interval", r.interval), zap.Int("batch_size", r.batchSize))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires every reservation due at the current time and returns how
// many it expired. Reservations settled concurrently by commit or release are
// skipped. A failure on one reservation is logged and the sweep moves on.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	started := time.Now()
	defer func() {
		metrics.ReaperSweepDuration.Observe(time.Since(started).Seconds())
	}()

	now := r.clock.Now()
	expired := 0
	for {
		due, err := r.reservations.ListExpired(ctx, now, r.batchSize)
		if err != nil {
			metrics.ReaperErrorsTotal.Inc()
			return expired, err
		}

		settled := 0
		for _, res := range due {
			if err := ctx.Err(); err != nil {
				return expired, err
			}

			ok, err := r.expirer.ExpireReservation(ctx, res.ID)
			if err != nil {
				metrics.ReaperErrorsTotal.Inc()
				r.logger.Warn("failed to expire reservation",
					zap.String("reservation_id", res.ID), zap.String("sku", res.SKU), zap.Error(err))
				continue
			}
			settled++
			if ok {
				expired++
				metrics.ReservationsExpiredTotal.Inc()
			}
		}

		// a page where nothing could be settled would be listed again forever
		if len(due) < r.batchSize || settled == 0 {
			break
		}
	}

	if expired > 0 {
		r.logger.Info("expired overdue reservations", zap.Int("count", expired))
	}
	return expired, nil
}
