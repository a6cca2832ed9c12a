package stock

import (
	"fmt"
	"strings"
	"time"
)

const maxSKULength = 64

// Record is the ledger row of one SKU.
//
// OnHand is the physical quantity, Reserved is the sum of all pending holds,
// and Version is the optimistic concurrency token bumped on every accepted swap.
type Record struct {
	SKU       string
	OnHand    int
	Reserved  int
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord builds the initial record of a newly registered SKU.
func NewRecord(sku string, onHand int, now time.Time) (*Record, error) {
	if err := ValidateSKU(sku); err != nil {
		return nil, err
	}
	if onHand < 0 {
		return nil, ErrInvalidQuantity.WithCause(fmt.Errorf("on_hand %d is negative", onHand))
	}
	return &Record{
		SKU:       sku,
		OnHand:    onHand,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Available is the quantity that new reservations may still claim.
func (r *Record) Available() int {
	return r.OnHand - r.Reserved
}

// CanReserve reports whether a positive quantity fits in the available stock.
func (r *Record) CanReserve(quantity int) bool {
	return quantity > 0 && r.Available() >= quantity
}

// IsLowStock reports whether available quantity is at or below threshold.
func (r *Record) IsLowStock(threshold int) bool {
	return r.Available() <= threshold
}

// Validate checks 0 <= Reserved <= OnHand.
func (r *Record) Validate() error {
	return checkQuantities(r.OnHand, r.Reserved)
}

// Propose builds a swap from the current state of r to the given quantities.
// The attached movement records both sides of the change.
func (r *Record) Propose(onHand, reserved int, typ MovementType, reservationID string, quantity int, at time.Time) Swap {
	return Swap{
		SKU:             r.SKU,
		ExpectedVersion: r.Version,
		OnHand:          onHand,
		Reserved:        reserved,
		At:              at,
		Movement: Movement{
			SKU:            r.SKU,
			Type:           typ,
			ReservationID:  reservationID,
			Quantity:       quantity,
			OnHandBefore:   r.OnHand,
			OnHandAfter:    onHand,
			ReservedBefore: r.Reserved,
			ReservedAfter:  reserved,
			Version:        r.Version + 1,
			CreatedAt:      at,
		},
	}
}

// Swap is a version-checked replacement of a record's quantities.
type Swap struct {
	SKU             string
	ExpectedVersion int64
	OnHand          int
	Reserved        int
	At              time.Time
	Movement        Movement
}

// Validate rejects swaps that would break 0 <= Reserved <= OnHand.
func (s Swap) Validate() error {
	return checkQuantities(s.OnHand, s.Reserved)
}

// Available after the swap is applied.
func (s Swap) Available() int {
	return s.OnHand - s.Reserved
}

// Apply returns a copy of r with the swap applied. The caller must have
// checked the version.
func (s Swap) Apply(r Record) Record {
	r.OnHand = s.OnHand
	r.Reserved = s.Reserved
	r.Version = s.ExpectedVersion + 1
	if !s.At.IsZero() {
		r.UpdatedAt = s.At
	}
	return r
}

// ValidateSKU rejects blank SKUs and SKUs longer than maxSKULength bytes.
func ValidateSKU(sku string) error {
	if strings.TrimSpace(sku) == "" {
		return ErrInvalidSKU.WithCause(fmt.Errorf("sku is empty"))
	}
	if len(sku) > maxSKULength {
		return ErrInvalidSKU.WithCause(fmt.Errorf("sku longer than %d bytes", maxSKULength))
	}
	return nil
}

func checkQuantities(onHand, reserved int) error {
	if reserved < 0 || onHand < 0 || reserved > onHand {
		return ErrInvariantViolation.WithCause(fmt.Errorf("on_hand=%d reserved=%d", onHand, reserved))
	}
	return nil
}
