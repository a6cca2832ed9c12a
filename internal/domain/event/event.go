// Package event defines the ledger's outbound domain events.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an event and doubles as its routing key.
type Type string

const (
	TypeStockReserved  Type = "stock.reserved"
	TypeStockCommitted Type = "stock.committed"
	TypeStockReleased  Type = "stock.released"
	TypeStockExpired   Type = "stock.expired"
	TypeLowStockAlert  Type = "stock.low"
)

// Event is emitted after the ledger change it describes has been stored.
// Consumers deduplicate on ID; delivery is at-least-once.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	SKU           string    `json:"sku"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Quantity      int       `json:"quantity"`
	Available     int       `json:"available"`
	Threshold     *int      `json:"threshold,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// New stamps a fresh event ID on a ledger event.
func New(typ Type, sku, reservationID string, quantity, available int, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          typ,
		SKU:           sku,
		ReservationID: reservationID,
		Quantity:      quantity,
		Available:     available,
		OccurredAt:    at,
	}
}

// NewLowStockAlert builds the alert for a SKU whose available quantity fell to
// or below threshold.
func NewLowStockAlert(sku string, available, threshold int, at time.Time) Event {
	e := New(TypeLowStockAlert, sku, "", available, available, at)
	e.Threshold = &threshold
	return e
}

// Publisher hands events to the notifier.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })
