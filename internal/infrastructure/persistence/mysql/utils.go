package mysql

import (
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/internal/domain/stock"
)

const (
	errDuplicateEntry  = 1062
	errCheckConstraint  = 3819
)

// isDuplicateError reports a unique key violation.
func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errDuplicateEntry
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}

// isCheckViolation reports a failed CHECK constraint (MySQL 8.0.16+).
func isCheckViolation(err error) bool {
	var myErr *mysqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errCheckConstraint
}

func toRecord(m *StockRecordModel) *stock.Record {
	return &stock.Record{
		SKU:       m.SKU,
		OnHand:    m.OnHand,
		Reserved:  m.Reserved,
		Version:   m.Version,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func toReservation(m *ReservationModel) *reservation.Reservation {
	res := &reservation.Reservation{
		ID:        m.ID,
		SKU:       m.SKU,
		Quantity:  m.Quantity,
		Status:    reservation.Status(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
		ExpiresAt: m.ExpiresAt.UTC(),
	}
	if m.SettledAt != nil {
		at := m.SettledAt.UTC()
		res.SettledAt = &at
	}
	return res
}

func fromReservation(r *reservation.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:        r.ID,
		SKU:       r.SKU,
		Quantity:  r.Quantity,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		SettledAt: r.SettledAt,
	}
}

func toMovement(m *StockMovementModel) *stock.Movement {
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
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func fromMovement(m stock.Movement, version int64) *StockMovementModel {
	return &StockMovementModel{
		SKU:            m.SKU,
		Type:           string(m.Type),
		ReservationID:  m.ReservationID,
		Quantity:       m.Quantity,
		OnHandBefore:   m.OnHandBefore,
		OnHandAfter:    m.OnHandAfter,
		ReservedBefore: m.ReservedBefore,
		ReservedAfter:  m.ReservedAfter,
		Version:        version,
		CreatedAt:      m.CreatedAt,
	}
}
