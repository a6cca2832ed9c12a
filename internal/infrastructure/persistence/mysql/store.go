package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

// Store persists the ledger in MySQL through gorm.
type Store struct {
	db *gorm.DB
	tx *TxManager
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, tx: NewTxManager(db)}
}

func (s *Store) Stocks() stock.Repository { return stockRepository{s} }

func (s *Store) Movements() stock.MovementRepository { return stockRepository{s} }

func (s *Store) Reservations() reservation.Repository { return reservationRepository{s} }

func (s *Store) Ledger() reservation.Ledger { return ledger{s} }

// swap applies sw with a conditional UPDATE and journals it. It must run
// inside a transaction so the journal row commits with the update.
func (s *Store) swap(ctx context.Context, sw stock.Swap) (int64, error) {
	if err := sw.Validate(); err != nil {
		return 0, err
	}

	db := conn(ctx, s.db)
	result := db.Model(&StockRecordModel{}).
		Where("sku = ? AND version = ?", sw.SKU, sw.ExpectedVersion).
		Updates(map[string]interface{}{
			"on_hand":    sw.OnHand,
			"reserved":   sw.Reserved,
			"version":    gorm.Expr("version + 1"),
			"updated_at": sw.At,
		})
	if result.Error != nil {
		if isCheckViolation(result.Error) {
			return 0, stock.ErrInvariantViolation.WithCause(result.Error)
		}
		return 0, apperrors.WrapCode(result.Error, apperrors.ErrCodeDatabaseError, "swap stock record")
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&StockRecordModel{}).Where("sku = ?", sw.SKU).Count(&count).Error; err != nil {
			return 0, apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "query stock record")
		}
		if count == 0 {
			return 0, stock.ErrSKUNotFound
		}
		return 0, stock.ErrVersionConflict
	}

	version := sw.ExpectedVersion + 1
	if err := db.Create(fromMovement(sw.Movement, version)).Error; err != nil {
		return 0, apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "append stock movement")
	}
	return version, nil
}

type stockRepository struct{ *Store }

func (r stockRepository) Create(ctx context.Context, rec *stock.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	version := rec.Version
	if version == 0 {
		version = 1
	}

	model := &StockRecordModel{
		SKU:       rec.SKU,
		OnHand:    rec.OnHand,
		Reserved:  rec.Reserved,
		Version:   version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		if isDuplicateError(err) {
			return stock.ErrSKUExists
		}
		return apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "create stock record")
	}
	return nil
}

func (r stockRepository) Get(ctx context.Context, sku string) (*stock.Record, error) {
	var model StockRecordModel
	err := conn(ctx, r.db).Where("sku = ?", sku).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, stock.ErrSKUNotFound
		}
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "get stock record")
	}
	return toRecord(&model), nil
}

func (r stockRepository) List(ctx context.Context) ([]*stock.Record, error) {
	var models []StockRecordModel
	if err := conn(ctx, r.db).Order("sku ASC").Find(&models).Error; err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "list stock records")
	}

	out := make([]*stock.Record, len(models))
	for i := range models {
		out[i] = toRecord(&models[i])
	}
	return out, nil
}

func (r stockRepository) CompareAndSwap(ctx context.Context, sw stock.Swap) (int64, error) {
	var version int64
	err := r.tx.Transaction(ctx, func(ctx context.Context) error {
		v, err := r.swap(ctx, sw)
		version = v
		return err
	})
	return version, err
}

func (r stockRepository) ListMovements(ctx context.Context, sku string, limit int) ([]*stock.Movement, error) {
	if limit <= 0 {
		return []*stock.Movement{}, nil
	}

	var models []StockMovementModel
	err := conn(ctx, r.db).
		Where("sku = ?", sku).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "list stock movements")
	}

	out := make([]*stock.Movement, len(models))
	for i := range models {
		out[i] = toMovement(&models[i])
	}
	return out, nil
}

type reservationRepository struct{ *Store }

func (r reservationRepository) Get(ctx context.Context, id string) (*reservation.Reservation, error) {
	var model ReservationModel
	err := conn(ctx, r.db).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "get reservation")
	}
	return toReservation(&model), nil
}

func (r reservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*reservation.Reservation, error) {
	var models []ReservationModel
	err := conn(ctx, r.db).
		Where("status = ? AND expires_at <= ?", string(reservation.StatusPending), now).
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "list expired reservations")
	}
	return toReservations(models), nil
}

func (r reservationRepository) ListBySKU(ctx context.Context, sku string, status reservation.Status) ([]*reservation.Reservation, error) {
	var models []ReservationModel
	err := conn(ctx, r.db).
		Where("sku = ? AND status = ?", sku, string(status)).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "list reservations by sku")
	}
	return toReservations(models), nil
}

func toReservations(models []ReservationModel) []*reservation.Reservation {
	out := make([]*reservation.Reservation, len(models))
	for i := range models {
		out[i] = toReservation(&models[i])
	}
	return out
}

type ledger struct{ *Store }

func (l ledger) Hold(ctx context.Context, res *reservation.Reservation, sw stock.Swap) (int64, error) {
	if !res.IsPending() || res.SKU != sw.SKU {
		return 0, fmt.Errorf("hold %s: reservation must be pending and match swap sku", res.ID)
	}

	var version int64
	err := l.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := conn(ctx, l.db).Create(fromReservation(res)).Error; err != nil {
			if isDuplicateError(err) {
				return reservation.ErrDuplicateID
			}
			return apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "insert reservation")
		}

		v, err := l.swap(ctx, sw)
		version = v
		return err
	})
	return version, err
}

func (l ledger) Settle(ctx context.Context, id string, to reservation.Status, at time.Time, sw stock.Swap) (int64, error) {
	if !reservation.StatusPending.CanTransitionTo(to) {
		return 0, reservation.ErrStatusConflict
	}

	var version int64
	err := l.tx.Transaction(ctx, func(ctx context.Context) error {
		db := conn(ctx, l.db)

		// the status guard locks the row; a concurrent settle waits here
		// and then matches nothing
		result := db.Model(&ReservationModel{}).
			Where("id = ? AND sku = ? AND status = ?", id, sw.SKU, string(reservation.StatusPending)).
			Updates(map[string]interface{}{
				"status":     string(to),
				"settled_at": at,
			})
		if result.Error != nil {
			return apperrors.WrapCode(result.Error, apperrors.ErrCodeDatabaseError, "settle reservation")
		}
		if result.RowsAffected == 0 {
			var model ReservationModel
			if err := db.Where("id = ?", id).First(&model).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return reservation.ErrReservationNotFound
				}
				return apperrors.WrapCode(err, apperrors.ErrCodeDatabaseError, "get reservation")
			}
			if model.SKU != sw.SKU {
				return fmt.Errorf("settle %s: swap sku %s does not match reservation sku %s", id, sw.SKU, model.SKU)
			}
			return reservation.ErrStatusConflict
		}

		v, err := l.swap(ctx, sw)
		version = v
		return err
	})
	return version, err
}
