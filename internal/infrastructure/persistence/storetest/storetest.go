// Package storetest is a conformance suite run by every ledger backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// Backend bundles the repositories of one storage driver.
type Backend struct {
	Stocks       stock.Repository
	Movements    stock.MovementRepository
	Reservations reservation.Repository
	Ledger       reservation.Ledger
}

// Run executes the suite. newBackend may return a shared backend; every case
// uses fresh SKU and reservation ids.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newBackend(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newBackend(t)) })
	t.Run("CompareAndSwapRejectsInvariantViolation", func(t *testing.T) { testInvariant(t, newBackend(t)) })
	t.Run("HoldAndSettle", func(t *testing.T) { testHoldAndSettle(t, newBackend(t)) })
	t.Run("SettleStaleVersion", func(t *testing.T) { testSettleStale(t, newBackend(t)) })
	t.Run("HoldDuplicateID", func(t *testing.T) { testHoldDuplicate(t, newBackend(t)) })
	t.Run("ListExpired", func(t *testing.T) { testListExpired(t, newBackend(t)) })
	t.Run("ListBySKU", func(t *testing.T) { testListBySKU(t, newBackend(t)) })
}

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newSKU() string {
	return "SKU-" + uuid.NewString()[:12]
}

func register(t *testing.T, b Backend, onHand int) *stock.Record {
	t.Helper()
	rec, err := stock.NewRecord(newSKU(), onHand, base)
	require.NoError(t, err)
	require.NoError(t, b.Stocks.Create(context.Background(), rec))
	got, err := b.Stocks.Get(context.Background(), rec.SKU)
	require.NoError(t, err)
	return got
}

func hold(t *testing.T, b Backend, rec *stock.Record, qty int, ttl time.Duration) (*reservation.Reservation, *stock.Record) {
	t.Helper()
	ctx := context.Background()
	res := reservation.New(uuid.NewString(), rec.SKU, qty, base, ttl)
	sw := rec.Propose(rec.OnHand, rec.Reserved+qty, stock.MovementReserve, res.ID, qty, base)
	_, err := b.Ledger.Hold(ctx, res, sw)
	require.NoError(t, err)
	after, err := b.Stocks.Get(ctx, rec.SKU)
	require.NoError(t, err)
	return res, after
}

func testCreateAndGet(t *testing.T, b Backend) {
	ctx := context.Background()
	rec := register(t, b, 10)

	assert.Equal(t, 10, rec.OnHand)
	assert.Equal(t, 0, rec.Reserved)
	assert.Equal(t, int64(1), rec.Version)

	dup, err := stock.NewRecord(rec.SKU, 3, base)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Stocks.Create(ctx, dup), stock.ErrSKUExists)

	_, err = b.Stocks.Get(ctx, newSKU())
	assert.ErrorIs(t, err, stock.ErrSKUNotFound)

	all, err := b.Stocks.List(ctx)
	require.NoError(t, err)
	found := false
	for _, r := range all {
		found = found || r.SKU == rec.SKU
	}
	assert.True(t, found, "List should include %s", rec.SKU)
}

func testCompareAndSwap(t *testing.T, b Backend) {
	ctx := context.Background()
	rec := register(t, b, 10)

	v, err := b.Stocks.CompareAndSwap(ctx, rec.Propose(15, 0, stock.MovementAdjust, "", 5, base))
	require.NoError(t, err)
	assert.Equal(t, rec.Version+1, v)

	_, err = b.Stocks.CompareAndSwap(ctx, rec.Propose(20, 0, stock.MovementAdjust, "", 10, base))
	assert.ErrorIs(t, err, stock.ErrVersionConflict, "stale version must be rejected")

	missing := *rec
	missing.SKU = newSKU()
	_, err = b.Stocks.CompareAndSwap(ctx, missing.Propose(1, 0, stock.MovementAdjust, "", 1, base))
	assert.ErrorIs(t, err, stock.ErrSKUNotFound)

	got, err := b.Stocks.Get(ctx, rec.SKU)
	require.NoError(t, err)
	assert.Equal(t, 15, got.OnHand)
	assert.Equal(t, v, got.Version)

	moves, err := b.Movements.ListMovements(ctx, rec.SKU, 10)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, stock.MovementAdjust, moves[0].Type)
	assert.Equal(t, 10, moves[0].OnHandBefore)
	assert.Equal(t, 15, moves[0].OnHandAfter)
	assert.Equal(t, v, moves[0].Version)
}

func testInvariant(t *testing.T, b Backend) {
	ctx := context.Background()
	rec := register(t, b, 3)

	_, err := b.Stocks.CompareAndSwap(ctx, rec.Propose(3, 4, stock.MovementReserve, "x", 4, base))
	assert.ErrorIs(t, err, stock.ErrInvariantViolation)

	got, err := b.Stocks.Get(ctx, rec.SKU)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, got.Version)
	assert.Equal(t, 0, got.Reserved)
}

func testHoldAndSettle(t *testing.T, b Backend) {
	ctx := context.Background()
	rec := register(t, b, 10)

	res, afterHold := hold(t, b, rec, 4, time.Minute)
	assert.Equal(t, 4, afterHold.Reserved)

	stored, err := b.Reservations.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPending, stored.Status)
	assert.Equal(t, 4, stored.Quantity)
	assert.WithinDuration(t, base.Add(time.Minute), stored.ExpiresAt, time.Second)

	settledAt := base.Add(10 * time.Second)
	commit := afterHold.Propose(6, 0, stock.MovementCommit, res.ID, 4, settledAt)
	_, err = b.Ledger.Settle(ctx, res.ID, reservation.StatusCommitted, settledAt, commit)
	require.NoError(t, err)

	afterCommit, err := b.Stocks.Get(ctx, rec.SKU)
	require.NoError(t, err)
	assert.Equal(t, 6, afterCommit.OnHand)
	assert.Equal(t, 0, afterCommit.Reserved)

	stored, err = b.Reservations.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCommitted, stored.Status)
	require.NotNil(t, stored.SettledAt)

	// a second settle loses on status and writes nothing
	again := afterCommit.Propose(afterCommit.OnHand, afterCommit.Reserved, stock.MovementExpire, res.ID, 4, settledAt)
	_, err = b.Ledger.Settle(ctx, res.ID, reservation.StatusExpired, settledAt, again)
	assert.ErrorIs(t, err, reservation.ErrStatusConflict)

	final, err := b.Stocks.Get(ctx, rec.SKU)
	require.NoError(t, err)
	assert.Equal(t, afterCommit.Version, final.Version)

	_, err = b.Ledger.Settle(ctx, uuid.NewString(), reservation.StatusReleased, settledAt, again)
	assert.ErrorIs(t, err, reservation.ErrReservationNotFound)

	moves, err := b.Movements.ListMovements(ctx, rec.SKU, 10)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, stock.MovementCommit, moves[0].Type, "newest first")
	assert.Equal(t, stock.MovementReserve, moves[1].Type)
}

func testSettleStale(t *testing.T, b Backend) {
	ctx := context.Background()
	rec := register(t, b, 10)
	res, afterHold := hold(t, b, rec, 2, time.Minute)

	stale := rec.Propose(rec.OnHand, 0, stock.MovementRelease, res.ID, 2, base)
	_, err := b.Ledger.Settle(ctx, res.ID, reservation.StatusReleased, base, stale)
	assert.ErrorIs(t, err, stock.ErrVersionConflict)

	stored, err := b.Reservations.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPending, stored.Status, "stale swap must not move the reservation")

	got, err := b.Stocks.Get(ctx, rec.SKU)
	require.NoError(t, err)
	assert.Equal(t, afterHold.Version, got.Version)
}

func testHoldDuplicate(t *testing.T, b Backend) {
	ctx := context.Background()
	rec := register(t, b, 10)
	res, afterHold := hold(t, b, rec, 1, time.Minute)

	dup := reservation.New(res.ID, rec.SKU, 1, base, time.Minute)
	_, err := b.Ledger.Hold(ctx, dup, afterHold.Propose(10, 2, stock.MovementReserve, res.ID, 1, base))
	assert.ErrorIs(t, err, reservation.ErrDuplicateID)

	got, err := b.Stocks.Get(ctx, rec.SKU)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Reserved)
}

func testListExpired(t *testing.T, b Backend) {
	ctx := context.Background()
	rec := register(t, b, 10)

	late, rec := hold(t, b, rec, 1, 3*time.Minute)
	early, rec := hold(t, b, rec, 1, time.Minute)
	_, rec = hold(t, b, rec, 1, time.Hour)
	committed, rec := hold(t, b, rec, 1, 30*time.Second)
	_, err := b.Ledger.Settle(ctx, committed.ID, reservation.StatusCommitted, base,
		rec.Propose(rec.OnHand-1, rec.Reserved-1, stock.MovementCommit, committed.ID, 1, base))
	require.NoError(t, err)

	expired, err := b.Reservations.ListExpired(ctx, base.Add(5*time.Minute), 1000)
	require.NoError(t, err)

	var ids []string
	for _, r := range expired {
		if r.SKU == rec.SKU {
			ids = append(ids, r.ID)
		}
	}
	assert.Equal(t, []string{early.ID, late.ID}, ids)

	exactly, err := b.Reservations.ListExpired(ctx, base.Add(time.Minute), 1000)
	require.NoError(t, err)
	var atDeadline []string
	for _, r := range exactly {
		if r.SKU == rec.SKU {
			atDeadline = append(atDeadline, r.ID)
		}
	}
	assert.Equal(t, []string{early.ID}, atDeadline, "expiresAt <= now is expired")
}

func testListBySKU(t *testing.T, b Backend) {
	ctx := context.Background()
	rec := register(t, b, 10)

	_, rec = hold(t, b, rec, 2, time.Minute)
	_, rec = hold(t, b, rec, 3, time.Minute)
	other := register(t, b, 10)
	hold(t, b, other, 1, time.Minute)

	pending, err := b.Reservations.ListBySKU(ctx, rec.SKU, reservation.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	sum := 0
	for _, r := range pending {
		sum += r.Quantity
	}
	assert.Equal(t, rec.Reserved, sum)

	none, err := b.Reservations.ListBySKU(ctx, rec.SKU, reservation.StatusCommitted)
	require.NoError(t, err)
	assert.Empty(t, none)
}
