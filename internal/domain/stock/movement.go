package stock

import "time"

// MovementType classifies a journal entry.
type MovementType string

const (
	MovementAdjust  MovementType = "ADJUST"
	MovementReserve MovementType = "RESERVE"
	MovementCommit  MovementType = "COMMIT"
	MovementRelease MovementType = "RELEASE"
	MovementExpire  MovementType = "EXPIRE"
)

// Movement is one entry of the per-SKU stock journal. It is written in the same
// atomic step as the swap it describes.
type Movement struct {
	ID             int64
	SKU            string
	Type           MovementType
	ReservationID  string
	Quantity       int // adjust delta, or the reservation quantity
	OnHandBefore   int
	OnHandAfter    int
	ReservedBefore int
	ReservedAfter  int
	Version        int64
	CreatedAt      time.Time
}
