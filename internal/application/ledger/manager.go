// Package ledger implements the reservation manager: the only writer of stock
// records and reservations.
//
// Every mutation is a read-decide-swap loop over a version-checked
// compare-and-swap. No lock is held across the loop, so contention on one SKU
// never blocks another; a conflict simply re-reads and retries, up to a bound.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/application/lowstock"
	"github.com/xiebiao/stockledger/internal/domain/event"
	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	"github.com/xiebiao/stockledger/pkg/clock"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/metrics"
	"github.com/xiebiao/stockledger/pkg/tracing"
)

const (
	tracerName = "github.com/xiebiao/stockledger/internal/application/ledger"

	defaultTTL          = 15 * time.Minute
	defaultMaxTTL       = 24 * time.Hour
	defaultMaxRetries   = 5
	defaultBatchTimeout = 10 * time.Second
	defaultEmitTimeout  = 5 * time.Second

	defaultMovementLimit = 50
	maxMovementLimit     = 500
)

// Repositories groups the storage ports of one backend.
type Repositories struct {
	Stocks       stock.Repository
	Movements    stock.MovementRepository
	Reservations reservation.Repository
	Ledger       reservation.Ledger
}

// Manager owns every change to stock and reservations. Each operation reads
// the current record, proposes a swap and retries on a version conflict.
type Manager struct {
	stocks       stock.Repository
	movements    stock.MovementRepository
	reservations reservation.Repository
	ledger       reservation.Ledger
	publisher    event.Publisher
	policy       *lowstock.Policy

	clock  clock.Clock
	logger *zap.Logger
	newID  func() string

	defaultTTL   time.Duration
	maxTTL       time.Duration
	maxRetries   int
	retryBackoff time.Duration
	batchTimeout time.Duration
	emitTimeout  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithDefaultTTL sets the hold time of a reservation that asks for none.
func WithDefaultTTL(d time.Duration) Option { return func(m *Manager) { m.defaultTTL = d } }

// WithMaxTTL caps the hold time a caller may request.
func WithMaxTTL(d time.Duration) Option { return func(m *Manager) { m.maxTTL = d } }

// WithMaxRetries bounds the compare-and-swap attempts of one operation.
func WithMaxRetries(n int) Option { return func(m *Manager) { m.maxRetries = n } }

// WithRetryBackoff sets the base of the jittered pause between attempts.
func WithRetryBackoff(d time.Duration) Option { return func(m *Manager) { m.retryBackoff = d } }

// WithBatchTimeout bounds how long ReserveBatch may run before it rolls back.
func WithBatchTimeout(d time.Duration) Option { return func(m *Manager) { m.batchTimeout = d } }

// WithEmitTimeout bounds the hand-off of one event to the publisher.
func WithEmitTimeout(d time.Duration) Option { return func(m *Manager) { m.emitTimeout = d } }

// WithIDGenerator replaces the UUID reservation ID generator.
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

// NewManager wires a manager. A nil publisher discards events and a nil
// policy disables low-stock alerts.
func NewManager(repos Repositories, publisher event.Publisher, policy *lowstock.Policy, opts ...Option) *Manager {
	metrics.InitMetrics()

	m := &Manager{
		stocks:       repos.Stocks,
		movements:    repos.Movements,
		reservations: repos.Reservations,
		ledger:       repos.Ledger,
		publisher:    publisher,
		policy:       policy,
		clock:        clock.NewSystem(),
		logger:       zap.NewNop(),
		newID:        uuid.NewString,
		defaultTTL:   defaultTTL,
		maxTTL:       defaultMaxTTL,
		maxRetries:   defaultMaxRetries,
		batchTimeout: defaultBatchTimeout,
		emitTimeout:  defaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.publisher == nil {
		m.publisher = event.Discard
	}
	if m.maxRetries < 1 {
		m.maxRetries = 1
	}
	return m
}

// ReserveRequest asks for Quantity units of SKU. A zero TTL uses the default.
type ReserveRequest struct {
	SKU      string
	Quantity int
	TTL      time.Duration
}

// RegisterSKU creates the stock record of a new SKU.
func (m *Manager) RegisterSKU(ctx context.Context, sku string, onHand int) (rec *stock.Record, err error) {
	ctx, span := m.start(ctx, "register", attribute.String("sku", sku))
	defer m.finish(span, "register", time.Now(), &err)

	rec, err = stock.NewRecord(sku, onHand, m.clock.Now())
	if err != nil {
		return nil, err
	}
	if err = m.stocks.Create(ctx, rec); err != nil {
		return nil, err
	}

	m.logger.Info("sku registered", zap.String("sku", sku), zap.Int("on_hand", onHand))
	return rec, nil
}

// GetStock returns the current record of sku.
func (m *Manager) GetStock(ctx context.Context, sku string) (*stock.Record, error) {
	return m.stocks.Get(ctx, sku)
}

// GetReservation returns reservation id as stored. It does not apply lazy
// expiry; a pending reservation past its deadline is reported as pending.
func (m *Manager) GetReservation(ctx context.Context, id string) (*reservation.Reservation, error) {
	return m.reservations.Get(ctx, id)
}

// UpdateStock adjusts on-hand quantity by delta (restock or shrinkage) and
// returns the new on-hand. It never lets on-hand drop below reserved.
func (m *Manager) UpdateStock(ctx context.Context, sku string, delta int) (onHand int, err error) {
	ctx, span := m.start(ctx, "update_stock", attribute.String("sku", sku), attribute.Int("delta", delta))
	defer m.finish(span, "update_stock", time.Now(), &err)

	if err = stock.ValidateSKU(sku); err != nil {
		return 0, err
	}
	if delta == 0 {
		rec, err := m.stocks.Get(ctx, sku)
		if err != nil {
			return 0, err
		}
		return rec.OnHand, nil
	}

	now := m.clock.Now()
	before, sw, err := m.mutate(ctx, "update_stock", sku,
		func(rec *stock.Record) (stock.Swap, error) {
			next := rec.OnHand + delta
			if next < rec.Reserved {
				return stock.Swap{}, stock.ErrInsufficientStock.WithCause(
					fmt.Errorf("sku %s: on_hand %d%+d would drop below reserved %d", sku, rec.OnHand, delta, rec.Reserved))
			}
			return rec.Propose(next, rec.Reserved, stock.MovementAdjust, "", delta, now), nil
		},
		m.stocks.CompareAndSwap,
	)
	if err != nil {
		return 0, err
	}

	m.logger.Info("stock adjusted",
		zap.String("sku", sku), zap.Int("delta", delta), zap.Int("on_hand", sw.OnHand))
	m.alertIfLow(ctx, before, sw)
	return sw.OnHand, nil
}

// ReserveStock holds quantity units of a SKU until commit, release or expiry.
// The hold is all-or-nothing.
func (m *Manager) ReserveStock(ctx context.Context, req ReserveRequest) (res *reservation.Reservation, err error) {
	ctx, span := m.start(ctx, "reserve",
		attribute.String("sku", req.SKU), attribute.Int("quantity", req.Quantity))
	defer m.finish(span, "reserve", time.Now(), &err)

	res, err = m.reserve(ctx, req)
	if err == nil {
		span.SetAttributes(attribute.String("reservation_id", res.ID))
	}
	return res, err
}

func (m *Manager) reserve(ctx context.Context, req ReserveRequest) (*reservation.Reservation, error) {
	if err := stock.ValidateSKU(req.SKU); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, stock.ErrInvalidQuantity.WithCause(fmt.Errorf("quantity %d", req.Quantity))
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	if ttl < 0 || ttl > m.maxTTL {
		return nil, reservation.ErrInvalidTTL.WithCause(fmt.Errorf("ttl %s outside (0, %s]", ttl, m.maxTTL))
	}

	now := m.clock.Now()
	res := reservation.New(m.newID(), req.SKU, req.Quantity, now, ttl)

	before, sw, err := m.mutate(ctx, "reserve", req.SKU,
		func(rec *stock.Record) (stock.Swap, error) {
			if !rec.CanReserve(req.Quantity) {
				return stock.Swap{}, stock.ErrInsufficientStock.WithCause(
					fmt.Errorf("sku %s: available %d, requested %d", req.SKU, rec.Available(), req.Quantity))
			}
			return rec.Propose(rec.OnHand, rec.Reserved+req.Quantity, stock.MovementReserve, res.ID, req.Quantity, now), nil
		},
		func(ctx context.Context, sw stock.Swap) (int64, error) {
			return m.ledger.Hold(ctx, res, sw)
		},
	)
	if err != nil {
		return nil, err
	}

	m.logger.Info("stock reserved",
		zap.String("sku", res.SKU), zap.String("reservation_id", res.ID),
		zap.Int("quantity", res.Quantity), zap.Time("expires_at", res.ExpiresAt))
	m.emit(ctx, event.New(event.TypeStockReserved, res.SKU, res.ID, res.Quantity, sw.Available(), now))
	m.alertIfLow(ctx, before, sw)
	return res, nil
}

// CommitStock turns a pending reservation into a permanent on-hand deduction.
// Committing an already committed reservation is a no-op.
func (m *Manager) CommitStock(ctx context.Context, id string) (res *reservation.Reservation, err error) {
	ctx, span := m.start(ctx, "commit", attribute.String("reservation_id", id))
	defer m.finish(span, "commit", time.Now(), &err)

	res, err = m.reservations.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case reservation.StatusCommitted:
		return res, nil
	case reservation.StatusReleased, reservation.StatusExpired:
		return nil, reservation.ErrAlreadyTerminated
	}

	if res.IsExpired(m.clock.Now()) {
		cur, won, err := m.terminate(ctx, res, reservation.StatusExpired)
		if err != nil {
			return nil, err
		}
		if !won && cur.Status == reservation.StatusCommitted {
			return cur, nil
		}
		if !won && cur.Status == reservation.StatusReleased {
			return nil, reservation.ErrAlreadyTerminated
		}
		return nil, reservation.ErrReservationExpired
	}

	cur, won, err := m.terminate(ctx, res, reservation.StatusCommitted)
	if err != nil {
		return nil, err
	}
	if won {
		return cur, nil
	}
	switch cur.Status {
	case reservation.StatusCommitted:
		return cur, nil
	case reservation.StatusExpired:
		return nil, reservation.ErrReservationExpired
	default:
		return nil, reservation.ErrAlreadyTerminated
	}
}

// ReleaseStock cancels a pending reservation and returns its quantity to
// available. Releasing a released or expired reservation is a no-op.
func (m *Manager) ReleaseStock(ctx context.Context, id string) (res *reservation.Reservation, err error) {
	ctx, span := m.start(ctx, "release", attribute.String("reservation_id", id))
	defer m.finish(span, "release", time.Now(), &err)

	return m.release(ctx, id)
}

func (m *Manager) release(ctx context.Context, id string) (*reservation.Reservation, error) {
	res, err := m.reservations.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case reservation.StatusReleased, reservation.StatusExpired:
		return res, nil
	case reservation.StatusCommitted:
		return nil, reservation.ErrCannotReleaseCommitted
	}

	cur, won, err := m.terminate(ctx, res, reservation.StatusReleased)
	if err != nil {
		return nil, err
	}
	if !won && cur.Status == reservation.StatusCommitted {
		return nil, reservation.ErrCannotReleaseCommitted
	}
	return cur, nil
}

// ExpireReservation expires id if it is still pending past its deadline.
// It reports false when another party settled the reservation first.
func (m *Manager) ExpireReservation(ctx context.Context, id string) (expired bool, err error) {
	ctx, span := m.start(ctx, "expire", attribute.String("reservation_id", id))
	defer m.finish(span, "expire", time.Now(), &err)

	res, err := m.reservations.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !res.IsPending() || !res.IsExpired(m.clock.Now()) {
		return false, nil
	}

	_, won, err := m.terminate(ctx, res, reservation.StatusExpired)
	return won, err
}

// terminate moves a pending reservation to a terminal status and applies the
// matching ledger change in one atomic write. Commit, release, lazy expiry and
// the reaper all go through here.
//
// When another caller settles the reservation first, won is false and cur is
// the reservation as the winner left it.
func (m *Manager) terminate(ctx context.Context, res *reservation.Reservation, to reservation.Status) (cur *reservation.Reservation, won bool, err error) {
	var (
		movement  stock.MovementType
		eventType event.Type
		operation string
	)
	switch to {
	case reservation.StatusCommitted:
		movement, eventType, operation = stock.MovementCommit, event.TypeStockCommitted, "commit"
	case reservation.StatusReleased:
		movement, eventType, operation = stock.MovementRelease, event.TypeStockReleased, "release"
	case reservation.StatusExpired:
		movement, eventType, operation = stock.MovementExpire, event.TypeStockExpired, "expire"
	default:
		return nil, false, fmt.Errorf("terminate %s: %s is not a terminal status", res.ID, to)
	}

	now := m.clock.Now()
	_, sw, err := m.mutate(ctx, operation, res.SKU,
		func(rec *stock.Record) (stock.Swap, error) {
			onHand := rec.OnHand
			if to == reservation.StatusCommitted {
				onHand -= res.Quantity
			}
			sw := rec.Propose(onHand, rec.Reserved-res.Quantity, movement, res.ID, res.Quantity, now)
			if err := sw.Validate(); err != nil {
				// a settled reservation no longer counts toward reserved
				if cur, gerr := m.reservations.Get(ctx, res.ID); gerr == nil && !cur.IsPending() {
					return stock.Swap{}, reservation.ErrStatusConflict
				}
				return stock.Swap{}, fmt.Errorf("%s reservation %s: %w", operation, res.ID, err)
			}
			return sw, nil
		},
		func(ctx context.Context, sw stock.Swap) (int64, error) {
			return m.ledger.Settle(ctx, res.ID, to, now, sw)
		},
	)
	if errors.Is(err, reservation.ErrStatusConflict) {
		cur, gerr := m.reservations.Get(ctx, res.ID)
		if gerr != nil {
			return nil, false, gerr
		}
		m.logger.Info("reservation already settled",
			zap.String("reservation_id", res.ID), zap.String("wanted", to.String()), zap.String("status", cur.Status.String()))
		return cur, false, nil
	}
	if err != nil {
		if errors.Is(err, stock.ErrInvariantViolation) {
			m.logger.Error("refusing ledger change that breaks the stock invariant",
				zap.String("sku", res.SKU), zap.String("reservation_id", res.ID), zap.Error(err))
		}
		return nil, false, err
	}

	settled := *res
	settled.Status = to
	settled.SettledAt = &now

	m.logger.Info("reservation settled",
		zap.String("sku", res.SKU), zap.String("reservation_id", res.ID),
		zap.String("status", to.String()), zap.Int("quantity", res.Quantity))
	m.emit(ctx, event.New(eventType, res.SKU, res.ID, res.Quantity, sw.Available(), now))
	return &settled, true, nil
}

// mutate runs a read-decide-swap loop on one SKU. decide sees the freshly read
// record and either proposes a swap or rejects the operation; apply writes it.
// Only stock.ErrVersionConflict is retried.
func (m *Manager) mutate(
	ctx context.Context,
	operation, sku string,
	decide func(rec *stock.Record) (stock.Swap, error),
	apply func(ctx context.Context, sw stock.Swap) (int64, error),
) (*stock.Record, stock.Swap, error) {
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		rec, err := m.stocks.Get(ctx, sku)
		if err != nil {
			return nil, stock.Swap{}, err
		}

		sw, err := decide(rec)
		if err != nil {
			return nil, stock.Swap{}, err
		}

		if _, err = apply(ctx, sw); err == nil {
			return rec, sw, nil
		}
		if !errors.Is(err, stock.ErrVersionConflict) {
			return nil, stock.Swap{}, err
		}

		metrics.CASConflictsTotal.WithLabelValues(operation).Inc()
		m.logger.Debug("version conflict, retrying",
			zap.String("sku", sku), zap.String("operation", operation), zap.Int("attempt", attempt))

		if attempt < m.maxRetries {
			if err := m.pause(ctx, attempt); err != nil {
				return nil, stock.Swap{}, err
			}
		}
	}

	metrics.ContentionExceededTotal.WithLabelValues(operation).Inc()
	m.logger.Warn("giving up after repeated version conflicts",
		zap.String("sku", sku), zap.String("operation", operation), zap.Int("attempts", m.maxRetries))
	return nil, stock.Swap{}, stock.ErrContentionExceeded
}

func (m *Manager) pause(ctx context.Context, attempt int) error {
	if m.retryBackoff <= 0 {
		return ctx.Err()
	}
	d := time.Duration(attempt) * m.retryBackoff
	d += time.Duration(rand.Int64N(int64(m.retryBackoff)))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// alertIfLow emits LowStockAlert when sw moved the SKU from above its
// threshold to at or below it.
func (m *Manager) alertIfLow(ctx context.Context, before *stock.Record, sw stock.Swap) {
	if m.policy == nil || before == nil {
		return
	}
	threshold, crossed := m.policy.Crossed(sw.SKU, before.Available(), sw.Available())
	if !crossed {
		return
	}

	metrics.LowStockAlertsTotal.Inc()
	m.logger.Warn("sku reached low-stock threshold",
		zap.String("sku", sw.SKU), zap.Int("available", sw.Available()), zap.Int("threshold", threshold))
	m.emit(ctx, event.NewLowStockAlert(sw.SKU, sw.Available(), threshold, sw.At))
}

// emit publishes e after its ledger change is stored. The request context may
// already be cancelled by then, so publishing gets its own deadline.
func (m *Manager) emit(ctx context.Context, e event.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.emitTimeout)
	defer cancel()

	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.Error("event not emitted",
			zap.String("type", string(e.Type)), zap.String("sku", e.SKU),
			zap.String("reservation_id", e.ReservationID), zap.Error(err))
	}
}

func (m *Manager) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracing.StartSpan(ctx, tracerName, "ledger."+operation, trace.WithAttributes(attrs...))
}

func (m *Manager) finish(span trace.Span, operation string, started time.Time, err *error) {
	result := "ok"
	if *err != nil {
		result = strconv.Itoa(apperrors.CodeOf(*err))
	}
	metrics.LedgerOperationsTotal.WithLabelValues(operation, result).Inc()
	metrics.LedgerOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	tracing.End(span, *err)
}
