package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/memory"
	"github.com/xiebiao/stockledger/pkg/clock"
)

var start = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*ledger.Manager, *memory.Store, *clock.Manual) {
	t.Helper()
	store := memory.NewStore()
	c := clock.NewManual(start)
	m := ledger.NewManager(ledger.Repositories{
		Stocks:       store.Stocks(),
		Movements:    store.Movements(),
		Reservations: store.Reservations(),
		Ledger:       store.Ledger(),
	}, nil, nil, ledger.WithClock(c), ledger.WithLogger(zaptest.NewLogger(t)))
	return m, store, c
}

func TestSweep_ExpiresOverdueAcrossPages(t *testing.T) {
	m, store, c := setup(t)
	ctx := context.Background()
	_, err := m.RegisterSKU(ctx, "A", 100)
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 7; i++ {
		res, err := m.ReserveStock(ctx, ledger.ReserveRequest{SKU: "A", Quantity: 2, TTL: time.Minute})
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}
	longLived, err := m.ReserveStock(ctx, ledger.ReserveRequest{SKU: "A", Quantity: 5, TTL: time.Hour})
	require.NoError(t, err)
	committed, err := m.ReserveStock(ctx, ledger.ReserveRequest{SKU: "A", Quantity: 1, TTL: time.Minute})
	require.NoError(t, err)
	_, err = m.CommitStock(ctx, committed.ID)
	require.NoError(t, err)

	c.Advance(2 * time.Minute)

	r := New(m, store.Reservations(), c, time.Second, 3, zaptest.NewLogger(t))
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	for _, id := range ids {
		res, err := m.GetReservation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusExpired, res.Status)
	}
	res, err := m.GetReservation(ctx, longLived.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPending, res.Status)

	rec, err := m.GetStock(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 99, rec.OnHand)
	assert.Equal(t, 5, rec.Reserved)

	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingExpirer struct{ calls int }

func (f *failingExpirer) ExpireReservation(context.Context, string) (bool, error) {
	f.calls++
	return false, errors.New("storage unavailable")
}

func TestSweep_StopsWhenNothingSettles(t *testing.T) {
	m, store, c := setup(t)
	ctx := context.Background()
	_, err := m.RegisterSKU(ctx, "A", 10)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := m.ReserveStock(ctx, ledger.ReserveRequest{SKU: "A", Quantity: 1, TTL: time.Second})
		require.NoError(t, err)
	}
	c.Advance(time.Minute)

	failing := &failingExpirer{}
	r := New(failing, store.Reservations(), c, time.Second, 2, zaptest.NewLogger(t))
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, failing.calls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	m, store, c := setup(t)
	r := New(m, store.Reservations(), c, 10*time.Millisecond, 10, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
