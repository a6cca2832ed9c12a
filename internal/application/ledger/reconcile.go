package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

var errEmptyBatch = apperrors.New(apperrors.ErrCodeInvalidParams, "batch has no lines")

// ReconcileReport compares a SKU's reserved counter with the sum of its
// pending reservations. Drift is Reserved - PendingSum and is zero when the
// ledger is consistent.
type ReconcileReport struct {
	SKU        string `json:"sku"`
	OnHand     int    `json:"on_hand"`
	Reserved   int    `json:"reserved"`
	PendingSum int    `json:"pending_sum"`
	Pending    int    `json:"pending"`
	Drift      int    `json:"drift"`
}

// Consistent reports whether the reserved counter matches the pending sum.
func (r ReconcileReport) Consistent() bool {
	return r.Drift == 0
}

// Reconcile reads the record and the pending reservations of sku. The two reads
// are not one snapshot, so a concurrent write can show a transient drift.
func (m *Manager) Reconcile(ctx context.Context, sku string) (*ReconcileReport, error) {
	rec, err := m.stocks.Get(ctx, sku)
	if err != nil {
		return nil, err
	}
	pending, err := m.reservations.ListBySKU(ctx, sku, reservation.StatusPending)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		SKU:      sku,
		OnHand:   rec.OnHand,
		Reserved: rec.Reserved,
		Pending:  len(pending),
	}
	for _, res := range pending {
		report.PendingSum += res.Quantity
	}
	report.Drift = report.Reserved - report.PendingSum

	if !report.Consistent() {
		m.logger.Warn("reserved counter drifted from pending reservations",
			zap.String("sku", sku), zap.Int("reserved", report.Reserved),
			zap.Int("pending_sum", report.PendingSum))
	}
	return report, nil
}

// ListMovements returns the newest journal entries of sku.
func (m *Manager) ListMovements(ctx context.Context, sku string, limit int) ([]*stock.Movement, error) {
	if _, err := m.stocks.Get(ctx, sku); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMovementLimit
	}
	if limit > maxMovementLimit {
		limit = maxMovementLimit
	}
	return m.movements.ListMovements(ctx, sku, limit)
}
