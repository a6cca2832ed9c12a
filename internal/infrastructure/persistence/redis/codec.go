package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// Times are stored as unix nanoseconds.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, n).UTC(), nil
}

// expiryScore rounds up to the millisecond, so a reservation is never listed
// as expired before its deadline.
func expiryScore(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}

type fieldReader struct {
	fields map[string]string
	err    error
}

func (f *fieldReader) intField(name string) int {
	v, err := strconv.Atoi(f.fields[name])
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
	return v
}

func (f *fieldReader) int64Field(name string) int64 {
	v, err := strconv.ParseInt(f.fields[name], 10, 64)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
	return v
}

func (f *fieldReader) timeField(name string) time.Time {
	raw, ok := f.fields[name]
	if !ok {
		return time.Time{}
	}
	v, err := parseTime(raw)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("field %s: %w", name, err)
	}
	return v
}

func parseRecord(sku string, fields map[string]string) (*stock.Record, error) {
	f := &fieldReader{fields: fields}
	rec := &stock.Record{
		SKU:       sku,
		OnHand:    f.intField("on_hand"),
		Reserved:  f.intField("reserved"),
		Version:   f.int64Field("version"),
		CreatedAt: f.timeField("created_at"),
		UpdatedAt: f.timeField("updated_at"),
	}
	if f.err != nil {
		return nil, fmt.Errorf("decode stock record %s: %w", sku, f.err)
	}
	return rec, nil
}

func parseReservation(id string, fields map[string]string) (*reservation.Reservation, error) {
	f := &fieldReader{fields: fields}
	res := &reservation.Reservation{
		ID:        id,
		SKU:       fields["sku"],
		Quantity:  f.intField("quantity"),
		Status:    reservation.Status(fields["status"]),
		CreatedAt: f.timeField("created_at"),
		ExpiresAt: f.timeField("expires_at"),
	}
	if _, ok := fields["settled_at"]; ok {
		at := f.timeField("settled_at")
		res.SettledAt = &at
	}
	if f.err != nil {
		return nil, fmt.Errorf("decode reservation %s: %w", id, f.err)
	}
	return res, nil
}

// movementRecord is the JSON shape of a journal entry. The scripts fill in id
// and version when the entry is written.
type movementRecord struct {
	ID             int64     `json:"id"`
	SKU            string    `json:"sku"`
	Type           string    `json:"type"`
	ReservationID  string    `json:"reservation_id"`
	Quantity       int       `json:"quantity"`
	OnHandBefore   int       `json:"on_hand_before"`
	OnHandAfter    int       `json:"on_hand_after"`
	ReservedBefore int       `json:"reserved_before"`
	ReservedAfter  int       `json:"reserved_after"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

func fromMovement(m stock.Movement) movementRecord {
	return movementRecord{
		SKU:            m.SKU,
		Type:           string(m.Type),
		ReservationID:  m.ReservationID,
		Quantity:       m.Quantity,
		OnHandBefore:   m.OnHandBefore,
		OnHandAfter:    m.OnHandAfter,
		ReservedBefore: m.ReservedBefore,
		ReservedAfter:  m.ReservedAfter,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func (m movementRecord) toMovement() *stock.Movement {
	return &stock.Movement{
		ID:             m.ID,
		SKU:            m.SKU,
		Type:           stock.MovementType(m.Type),
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
