package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/event"
)

// LogSink writes events to the service log. It is the default when no broker
// is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, e event.Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
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
	s.logger.Info("event", fields...)
	return nil
}

func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}
