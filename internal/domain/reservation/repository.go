package reservation

import (
	"context"
	"time"

	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// Repository reads reservations. Writes go through Ledger.
type Repository interface {
	Get(ctx context.Context, id string) (*Reservation, error)

	// ListExpired returns pending reservations with ExpiresAt <= now, oldest deadline first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)

	ListBySKU(ctx context.Context, sku string, status Status) ([]*Reservation, error)
}

// Ledger writes a stock swap and a reservation change as one atomic unit.
// Either both effects are stored or neither is.
type Ledger interface {
	// Hold applies swap and inserts r, which must be pending.
	Hold(ctx context.Context, r *Reservation, swap stock.Swap) (int64, error)

	// Settle applies swap and moves reservation id from PENDING to status to.
	// It returns ErrStatusConflict when the reservation is no longer pending,
	// and stock.ErrVersionConflict when the swap is stale.
	Settle(ctx context.Context, id string, to Status, at time.Time, swap stock.Swap) (int64, error)
}
