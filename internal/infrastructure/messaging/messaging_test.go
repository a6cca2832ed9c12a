package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xiebiao/stockledger/internal/domain/event"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/mq"
)

var at = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func tracedContext(t *testing.T) context.Context {
	t.Helper()
	tp := sdktrace.NewTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	t.Cleanup(func() { span.End() })
	return ctx
}

type fakeAMQP struct {
	msgs []mq.Message
	err  error
}

func (f *fakeAMQP) Publish(_ context.Context, msg mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeAMQP) Close() error { return nil }

func TestRabbitMQSink_Send(t *testing.T) {
	ctx := tracedContext(t)
	pub := &fakeAMQP{}
	sink := NewRabbitMQSink(pub, zaptest.NewLogger(t))

	e := event.NewLowStockAlert("A", 2, 5, at)
	require.NoError(t, sink.Send(ctx, e))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "stock.low", msg.RoutingKey)
	assert.Equal(t, e.ID, msg.MessageID)
	assert.Equal(t, at, msg.Timestamp)
	assert.Equal(t, "A", msg.Headers["sku"])
	assert.Contains(t, msg.Headers, "traceparent")

	decoded, err := Decode(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, e.ID, decoded.ID)
	require.NotNil(t, decoded.Threshold)
	assert.Equal(t, 5, *decoded.Threshold)

	pub.err = errors.New("channel closed")
	err = sink.Send(ctx, e)
	assert.ErrorIs(t, err, apperrors.ErrMessagingError)
	assert.ErrorIs(t, err, pub.err)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"sku":"A"}`))
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink_Send(t *testing.T) {
	ctx := tracedContext(t)
	w := &fakeWriter{}
	sink := NewKafkaSink(w)

	e := event.New(event.TypeStockReserved, "SKU-9", "res-1", 3, 7, at)
	require.NoError(t, sink.Send(ctx, e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte("SKU-9"), msg.Key)
	assert.Equal(t, at, msg.Time)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "stock.reserved", headers["event_type"])
	assert.NotEmpty(t, headers["traceparent"])

	decoded, err := Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "res-1", decoded.ReservationID)
	assert.Equal(t, 7, decoded.Available)

	w.err = kafka.LeaderNotAvailable
	err = sink.Send(ctx, e)
	assert.ErrorIs(t, err, apperrors.ErrMessagingError)
	assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
	assert.Equal(t, apperrors.ErrCodeMessagingError, apperrors.CodeOf(err))
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "stock-events", 10*time.Millisecond)
	assert.Equal(t, "stock-events", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestLogSink_Send(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Send(context.Background(), event.New(event.TypeStockCommitted, "A", "r1", 2, 8, at)))
	require.NoError(t, sink.Close())

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "stock.committed", fields["type"])
	assert.Equal(t, "r1", fields["reservation_id"])
	assert.NotContains(t, fields, "threshold")
}
