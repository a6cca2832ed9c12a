package stock

import "context"

// Repository is the Stock Record Store.
type Repository interface {
	Create(ctx context.Context, r *Record) error

	Get(ctx context.Context, sku string) (*Record, error)

	List(ctx context.Context) ([]*Record, error)

	// CompareAndSwap writes the swap's quantities if the stored version equals
	// s.ExpectedVersion, appends s.Movement to the journal and returns the new
	// version. It fails with ErrVersionConflict, ErrSKUNotFound or
	// ErrInvariantViolation without writing anything.
	CompareAndSwap(ctx context.Context, s Swap) (int64, error)
}

// MovementRepository reads the stock journal.
type MovementRepository interface {
	// ListMovements returns the newest entries first.
	ListMovements(ctx context.Context, sku string, limit int) ([]*Movement, error)
}
