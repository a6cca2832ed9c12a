package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/event"
	"github.com/xiebiao/stockledger/internal/infrastructure/messaging"
	"github.com/xiebiao/stockledger/pkg/metrics"
	"github.com/xiebiao/stockledger/pkg/mq"
)

// tailer logs every ledger event once. Redeliveries within the last window
// event IDs are acknowledged and skipped.
type tailer struct {
	queue  string
	logger *zap.Logger

	seen   map[string]struct{}
	order  []string // ring of the last len(order) IDs
	next   int
	filled bool
}

func newTailer(queue string, window int, logger *zap.Logger) *tailer {
	metrics.InitMetrics()
	if window <= 0 {
		window = 4096
	}
	return &tailer{
		queue:  queue,
		logger: logger,
		seen:   make(map[string]struct{}, window),
		order:  make([]string, window),
	}
}

// handle never returns an error for a malformed body; requeueing it would
// loop forever.
func (t *tailer) handle(_ context.Context, d mq.Delivery) error {
	e, err := messaging.Decode(d.Body)
	if err != nil {
		metrics.MessagesConsumedTotal.WithLabelValues(t.queue, "invalid").Inc()
		t.logger.Warn("dropping malformed message",
			zap.String("routing_key", d.RoutingKey), zap.String("message_id", d.MessageID), zap.Error(err))
		return nil
	}

	if !t.remember(e.ID) {
		metrics.MessagesConsumedTotal.WithLabelValues(t.queue, "duplicate").Inc()
		t.logger.Debug("duplicate event", zap.String("event_id", e.ID), zap.Bool("redelivered", d.Redelivered))
		return nil
	}

	metrics.MessagesConsumedTotal.WithLabelValues(t.queue, "ok").Inc()
	t.log(e)
	return nil
}

// remember reports whether id is new, evicting the oldest ID once the window
// is full.
func (t *tailer) remember(id string) bool {
	if _, ok := t.seen[id]; ok {
		return false
	}
	if t.filled {
		delete(t.seen, t.order[t.next])
	}
	t.order[t.next] = id
	t.seen[id] = struct{}{}
	t.next++
	if t.next == len(t.order) {
		t.next = 0
		t.filled = true
	}
	return true
}

func (t *tailer) log(e event.Event) {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("sku", e.SKU),
		zap.Int("quantity", e.Quantity),
		zap.Int("available", e.Available),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.ReservationID != "" {
		fields = append(fields, zap.String("reservation_id", e.ReservationID))
	}
	if e.Threshold != nil {
		fields = append(fields, zap.Int("threshold", *e.Threshold))
	}

	if e.Type == event.TypeLowStockAlert {
		t.logger.Warn(string(e.Type), fields...)
		return
	}
	t.logger.Info(string(e.Type), fields...)
}
