// Package messaging adapts message brokers to the event dispatcher's Sink.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/event"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/mq"
)

// AMQPPublisher is satisfied by *mq.Publisher.
type AMQPPublisher interface {
	Publish(ctx context.Context, msg mq.Message) error
	Close() error
}

// RabbitMQSink publishes each event to the topic exchange with the event type
// as routing key, so consumers can bind to e.g. "stock.low" or "stock.#".
type RabbitMQSink struct {
	publisher AMQPPublisher
	logger    *zap.Logger
}

func NewRabbitMQSink(publisher AMQPPublisher, logger *zap.Logger) *RabbitMQSink {
	return &RabbitMQSink{publisher: publisher, logger: logger}
}

func (s *RabbitMQSink) Name() string { return "rabbitmq" }

func (s *RabbitMQSink) Send(ctx context.Context, e event.Event) error {
	msg, err := mq.NewJSONMessage(string(e.Type), e.ID, e)
	if err != nil {
		return err
	}
	msg.Timestamp = e.OccurredAt

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg.Headers = make(map[string]interface{}, len(carrier)+1)
	for k, v := range carrier {
		msg.Headers[k] = v
	}
	msg.Headers["sku"] = e.SKU

	if err := s.publisher.Publish(ctx, msg); err != nil {
		return apperrors.ErrMessagingError.WithCause(fmt.Errorf("rabbitmq: %w", err))
	}
	return nil
}

func (s *RabbitMQSink) Close() error {
	return s.publisher.Close()
}

// Decode parses an event published by one of the sinks.
func Decode(body []byte) (event.Event, error) {
	var e event.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return event.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.ID == "" || e.Type == "" {
		return event.Event{}, fmt.Errorf("decode event: missing id or type")
	}
	return e, nil
}
