package dto

import (
	"time"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/application/lowstock"
	"github.com/xiebiao/stockledger/internal/domain/stock"
)

type RegisterSKURequest struct {
	SKU    string `json:"sku" binding:"required,max=64" example:"SKU-1001"`
	OnHand int    `json:"on_hand" binding:"min=0" example:"100"`
}

// UpdateStockRequest adjusts on-hand quantity. A negative delta records
// shrinkage; zero is a no-op.
type UpdateStockRequest struct {
	Delta *int `json:"delta" binding:"required" example:"-3"`
}

type UpdateStockResponse struct {
	SKU    string `json:"sku" example:"SKU-1001"`
	OnHand int    `json:"on_hand" example:"97"`
}

// StockResponse is the JSON form of a stock record.
type StockResponse struct {
	SKU       string    `json:"sku" example:"SKU-1001"`
	OnHand    int       `json:"on_hand" example:"100"`
	Reserved  int       `json:"reserved" example:"4"`
	Available int       `json:"available" example:"96"`
	Version   int64     `json:"version" example:"12"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewStockResponse(r *stock.Record) *StockResponse {
	return &StockResponse{
		SKU:       r.SKU,
		OnHand:    r.OnHand,
		Reserved:  r.Reserved,
		Available: r.Available(),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// ThresholdQuery overrides the configured low-stock threshold.
type ThresholdQuery struct {
	Threshold *int `form:"threshold" binding:"omitempty,min=0" example:"10"`
}

type LowStockResponse struct {
	Low bool `json:"low" example:"true"`
	lowstock.Item
}

// MovementsQuery holds the page size. A pointer keeps an explicit zero
// subject to min=1 instead of being skipped as empty.
type MovementsQuery struct {
	Limit *int `form:"limit" binding:"omitempty,min=1,max=500" example:"50"`
}

// PageSize returns the requested limit, or 0 to let the ledger apply its default.
func (q MovementsQuery) PageSize() int {
	if q.Limit == nil {
		return 0
	}
	return *q.Limit
}

type MovementResponse struct {
	ID             int64     `json:"id" example:"41"`
	Type           string    `json:"type" example:"RESERVE"`
	ReservationID  string    `json:"reservation_id,omitempty"`
	Quantity       int       `json:"quantity" example:"2"`
	OnHandBefore   int       `json:"on_hand_before" example:"100"`
	OnHandAfter    int       `json:"on_hand_after" example:"100"`
	ReservedBefore int       `json:"reserved_before" example:"2"`
	ReservedAfter  int       `json:"reserved_after" example:"4"`
	Version        int64     `json:"version" example:"12"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewMovementResponses(ms []*stock.Movement) []*MovementResponse {
	out := make([]*MovementResponse, len(ms))
	for i, m := range ms {
		out[i] = &MovementResponse{
			ID:             m.ID,
			Type:           string(m.Type),
			ReservationID:  m.ReservationID,
			Quantity:       m.Quantity,
			OnHandBefore:   m.OnHandBefore,
			OnHandAfter:    m.OnHandAfter,
			ReservedBefore: m.ReservedBefore,
			ReservedAfter:  m.ReservedAfter,
			Version:        m.Version,
			CreatedAt:      m.CreatedAt,
		}
	}
	return out
}

type ReconcileResponse struct {
	ledger.ReconcileReport
	Consistent bool `json:"consistent" example:"true"`
}
