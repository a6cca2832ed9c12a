package stock

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord("A", 10, now)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Available())
	assert.Equal(t, int64(1), rec.Version)

	_, err = NewRecord("", 10, now)
	assert.ErrorIs(t, err, ErrInvalidSKU)

	_, err = NewRecord(strings.Repeat("x", maxSKULength+1), 1, now)
	assert.ErrorIs(t, err, ErrInvalidSKU)

	_, err = NewRecord("A", -1, now)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestRecord_Propose(t *testing.T) {
	rec := &Record{SKU: "A", OnHand: 10, Reserved: 4, Version: 7}

	s := rec.Propose(6, 0, MovementCommit, "r1", 4, now)

	assert.Equal(t, int64(7), s.ExpectedVersion)
	assert.Equal(t, 6, s.Available())
	assert.Equal(t, Movement{
		SKU: "A", Type: MovementCommit, ReservationID: "r1", Quantity: 4,
		OnHandBefore: 10, OnHandAfter: 6, ReservedBefore: 4, ReservedAfter: 0,
		Version: 8, CreatedAt: now,
	}, s.Movement)

	applied := s.Apply(*rec)
	assert.Equal(t, int64(8), applied.Version)
	assert.Equal(t, 6, applied.OnHand)
	assert.Equal(t, now, applied.UpdatedAt)
}

func TestSwap_Validate(t *testing.T) {
	tests := []struct {
		name     string
		onHand   int
		reserved int
		ok       bool
	}{
		{"empty", 0, 0, true},
		{"fully reserved", 5, 5, true},
		{"over reserved", 5, 6, false},
		{"negative reserved", 5, -1, false},
		{"negative on hand", -1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Swap{OnHand: tt.onHand, Reserved: tt.reserved}.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvariantViolation))
		})
	}
}

func TestRecord_LowStock(t *testing.T) {
	rec := &Record{SKU: "A", OnHand: 10, Reserved: 7}
	assert.True(t, rec.IsLowStock(3))
	assert.False(t, rec.IsLowStock(2))
	assert.True(t, rec.CanReserve(3))
	assert.False(t, rec.CanReserve(4))
	assert.False(t, rec.CanReserve(0))
}
