// Package memory is an in-process ledger backend for tests and local runs.
//
// Every primitive takes the store mutex only for its own check-and-write, the
// same way a database latches a row for one statement. Read-decide-write loops
// in the ledger manager never hold it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// Store keeps stock, movements and reservations in maps behind one mutex.
type Store struct {
	mu           sync.RWMutex
	stocks       map[string]stock.Record
	reservations map[string]reservation.Reservation
	movements    map[string][]stock.Movement
	movementSeq  int64
}

func NewStore() *Store {
	return &Store{
		stocks:       make(map[string]stock.Record),
		reservations: make(map[string]reservation.Reservation),
		movements:    make(map[string][]stock.Movement),
	}
}

func (s *Store) Stocks() stock.Repository { return stockRepository{s} }

func (s *Store) Movements() stock.MovementRepository { return stockRepository{s} }

func (s *Store) Reservations() reservation.Repository { return reservationRepository{s} }

func (s *Store) Ledger() reservation.Ledger { return ledger{s} }

// swapLocked applies sw. The caller holds s.mu.
func (s *Store) swapLocked(sw stock.Swap) (int64, error) {
	rec, ok := s.stocks[sw.SKU]
	if !ok {
		return 0, stock.ErrSKUNotFound
	}
	if rec.Version != sw.ExpectedVersion {
		return 0, stock.ErrVersionConflict
	}
	if err := sw.Validate(); err != nil {
		return 0, err
	}

	updated := sw.Apply(rec)
	s.stocks[sw.SKU] = updated

	s.movementSeq++
	m := sw.Movement
	m.ID = s.movementSeq
	m.Version = updated.Version
	s.movements[sw.SKU] = append(s.movements[sw.SKU], m)

	return updated.Version, nil
}

type stockRepository struct{ *Store }

func (r stockRepository) Create(ctx context.Context, rec *stock.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stocks[rec.SKU]; ok {
		return stock.ErrSKUExists
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	r.stocks[rec.SKU] = *rec
	return nil
}

func (r stockRepository) Get(ctx context.Context, sku string) (*stock.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.stocks[sku]
	if !ok {
		return nil, stock.ErrSKUNotFound
	}
	return &rec, nil
}

func (r stockRepository) List(ctx context.Context) ([]*stock.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*stock.Record, 0, len(r.stocks))
	for _, rec := range r.stocks {
		rec := rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r stockRepository) CompareAndSwap(ctx context.Context, sw stock.Swap) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.swapLocked(sw)
}

func (r stockRepository) ListMovements(ctx context.Context, sku string, limit int) ([]*stock.Movement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.movements[sku]
	if limit <= 0 {
		return []*stock.Movement{}, nil
	}
	out := make([]*stock.Movement, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		m := all[i]
		out = append(out, &m)
	}
	return out, nil
}

type reservationRepository struct{ *Store }

func (r reservationRepository) Get(ctx context.Context, id string) (*reservation.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[id]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	return &res, nil
}

func (r reservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*reservation.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	var out []*reservation.Reservation
	for _, res := range r.reservations {
		if res.IsPending() && res.IsExpired(now) {
			res := res
			out = append(out, &res)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r reservationRepository) ListBySKU(ctx context.Context, sku string, status reservation.Status) ([]*reservation.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*reservation.Reservation
	for _, res := range r.reservations {
		if res.SKU == sku && res.Status == status {
			res := res
			out = append(out, &res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type ledger struct{ *Store }

func (l ledger) Hold(ctx context.Context, res *reservation.Reservation, sw stock.Swap) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !res.IsPending() || res.SKU != sw.SKU {
		return 0, fmt.Errorf("hold %s: reservation must be pending and match swap sku", res.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.reservations[res.ID]; ok {
		return 0, reservation.ErrDuplicateID
	}
	version, err := l.swapLocked(sw)
	if err != nil {
		return 0, err
	}
	l.reservations[res.ID] = *res
	return version, nil
}

func (l ledger) Settle(ctx context.Context, id string, to reservation.Status, at time.Time, sw stock.Swap) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[id]
	if !ok {
		return 0, reservation.ErrReservationNotFound
	}
	if res.SKU != sw.SKU {
		return 0, fmt.Errorf("settle %s: swap sku %s does not match reservation sku %s", id, sw.SKU, res.SKU)
	}
	if err := res.TransitionTo(to, at); err != nil {
		return 0, err
	}

	version, err := l.swapLocked(sw)
	if err != nil {
		return 0, err
	}
	l.reservations[id] = res
	return version, nil
}
