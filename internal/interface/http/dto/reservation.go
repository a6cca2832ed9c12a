package dto

import (
	"time"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/domain/reservation"
)

// ReserveRequest is the body of POST /reservations and one line of a batch.
type ReserveRequest struct {
	SKU      string `json:"sku" binding:"required,max=64" example:"SKU-1001"`
	Quantity int    `json:"quantity" binding:"required" example:"2"`
	// TTLSeconds defaults to the configured reservation TTL when zero and is
	// capped at one day.
	TTLSeconds int `json:"ttl_seconds" binding:"omitempty,min=0,max=86400" example:"900"`
}

// ToLedger converts the request to the ledger form.
func (r ReserveRequest) ToLedger() ledger.ReserveRequest {
	return ledger.ReserveRequest{
		SKU:      r.SKU,
		Quantity: r.Quantity,
		TTL:      time.Duration(r.TTLSeconds) * time.Second,
	}
}

type ReserveBatchRequest struct {
	Lines []ReserveRequest `json:"lines" binding:"required,min=1,max=100,dive"`
}

// ReservationResponse is the JSON form of a reservation.
type ReservationResponse struct {
	ID        string     `json:"id" example:"7d1e3c2a-5b7f-4a8e-9c61-2f0d4b9e8a13"`
	SKU       string     `json:"sku" example:"SKU-1001"`
	Quantity  int        `json:"quantity" example:"2"`
	Status    string     `json:"status" example:"PENDING"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

func NewReservationResponse(r *reservation.Reservation) *ReservationResponse {
	return &ReservationResponse{
		ID:        r.ID,
		SKU:       r.SKU,
		Quantity:  r.Quantity,
		Status:    r.Status.String(),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		SettledAt: r.SettledAt,
	}
}

func NewReservationResponses(rs []*reservation.Reservation) []*ReservationResponse {
	out := make([]*ReservationResponse, len(rs))
	for i, r := range rs {
		out[i] = NewReservationResponse(r)
	}
	return out
}
