package ledger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/pkg/metrics"
	"github.com/xiebiao/stockledger/pkg/saga"
)

// ReserveBatch reserves every line or none. Lines are held in order; when one
// fails the holds already taken are released before the error is returned.
func (m *Manager) ReserveBatch(ctx context.Context, reqs []ReserveRequest) (out []*reservation.Reservation, err error) {
	ctx, span := m.start(ctx, "reserve_batch", attribute.Int("lines", len(reqs)))
	defer m.finish(span, "reserve_batch", time.Now(), &err)

	if len(reqs) == 0 {
		return nil, fmt.Errorf("reserve batch: %w", errEmptyBatch)
	}

	out = make([]*reservation.Reservation, len(reqs))
	s := saga.NewSaga(m.batchTimeout, m.logger)
	for i, req := range reqs {
		s.AddStep(
			fmt.Sprintf("reserve %s x%d", req.SKU, req.Quantity),
			func(ctx context.Context) error {
				res, err := m.reserve(ctx, req)
				if err != nil {
					return err
				}
				out[i] = res
				return nil
			},
			func(ctx context.Context) error {
				_, err := m.release(ctx, out[i].ID)
				return err
			},
		)
	}

	if err = s.Execute(ctx); err != nil {
		metrics.SagaExecutionsTotal.WithLabelValues("compensated").Inc()
		metrics.SagaCompensationsTotal.Add(float64(s.Compensated()))
		m.logger.Warn("batch reservation rolled back",
			zap.Int("lines", len(reqs)), zap.Int("released", s.Compensated()), zap.Error(err))
		return nil, err
	}

	metrics.SagaExecutionsTotal.WithLabelValues("success").Inc()
	return out, nil
}
