package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/xiebiao/stockledger/internal/domain/event"
	"github.com/xiebiao/stockledger/pkg/circuitbreaker"
)

type fakeSink struct {
	mu       sync.Mutex
	failures int // first N sends fail
	calls    int
	sent     []event.Event
	spans    []trace.SpanContext
	block    chan struct{}
	closed   bool
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Send(ctx context.Context, e event.Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, e)
	s.spans = append(s.spans, trace.SpanContextFromContext(ctx))
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) snapshot() (calls int, sent []event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]event.Event(nil), s.sent...)
}

func newEvent(sku string) event.Event {
	return event.New(event.TypeStockReserved, sku, "res-1", 1, 9, time.Now())
}

func TestDispatcher_DeliversAndDrainsOnClose(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink, Options{Workers: 3, QueueSize: 16}, zaptest.NewLogger(t))

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Publish(context.Background(), newEvent("A")))
	}
	require.NoError(t, d.Close(context.Background()))

	_, sent := sink.snapshot()
	assert.Len(t, sent, 10)
	assert.True(t, sink.closed)

	err := d.Publish(context.Background(), newEvent("A"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, d.Close(context.Background()), "second close is a no-op")
}

func TestDispatcher_RetriesFailedSends(t *testing.T) {
	sink := &fakeSink{failures: 2}
	d := NewDispatcher(sink, Options{Workers: 1, MaxAttempts: 3, Backoff: time.Millisecond}, zaptest.NewLogger(t))

	require.NoError(t, d.Publish(context.Background(), newEvent("A")))
	require.NoError(t, d.Close(context.Background()))

	calls, sent := sink.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, sent, 1)
}

func TestDispatcher_DropsAfterMaxAttempts(t *testing.T) {
	sink := &fakeSink{failures: 100}
	d := NewDispatcher(sink, Options{Workers: 1, MaxAttempts: 2}, zaptest.NewLogger(t))

	require.NoError(t, d.Publish(context.Background(), newEvent("A")))
	require.NoError(t, d.Close(context.Background()))

	calls, sent := sink.snapshot()
	assert.Equal(t, 2, calls)
	assert.Empty(t, sent)
}

func TestDispatcher_BreakerRejectsWhileOpen(t *testing.T) {
	sink := &fakeSink{failures: 100}
	var (
		mu     sync.Mutex
		states []circuitbreaker.State
	)
	d := NewDispatcher(sink, Options{
		Workers:     1,
		MaxAttempts: 1,
		Breaker: circuitbreaker.Config{
			Timeout:     time.Hour,
			ReadyToTrip: func(c circuitbreaker.Counts) bool { return c.ConsecutiveFailures >= 2 },
			OnStateChange: func(_ string, _, to circuitbreaker.State) {
				mu.Lock()
				states = append(states, to)
				mu.Unlock()
			},
		},
	}, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Publish(context.Background(), newEvent("A")))
	}
	require.NoError(t, d.Close(context.Background()))

	calls, _ := sink.snapshot()
	assert.Equal(t, 2, calls, "sink is not called once the breaker is open")
	assert.Equal(t, circuitbreaker.StateOpen, d.breaker.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []circuitbreaker.State{circuitbreaker.StateOpen}, states)
}

func TestDispatcher_PublishGivesUpWhenQueueStaysFull(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	d := NewDispatcher(sink, Options{Workers: 1, QueueSize: 1}, zaptest.NewLogger(t))

	// one event in flight, one queued
	require.NoError(t, d.Publish(context.Background(), newEvent("A")))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Publish(context.Background(), newEvent("B")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Publish(ctx, newEvent("C"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	_, sent := sink.snapshot()
	assert.Len(t, sent, 2)
}

func TestDispatcher_CloseTimesOut(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	d := NewDispatcher(sink, Options{Workers: 1, MaxAttempts: 1, PublishTimeout: time.Hour}, zaptest.NewLogger(t))
	require.NoError(t, d.Publish(context.Background(), newEvent("A")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_SendCarriesPublisherSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	sink := &fakeSink{}
	d := NewDispatcher(sink, Options{Workers: 1}, zaptest.NewLogger(t))

	ctx, span := tp.Tracer("test").Start(context.Background(), "reserve")
	require.NoError(t, d.Publish(ctx, newEvent("A")))
	span.End()
	require.NoError(t, d.Publish(context.Background(), newEvent("B")))
	require.NoError(t, d.Close(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.spans, 2)

	got := sink.spans[0]
	require.True(t, got.IsValid())
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), got.SpanID())
	assert.True(t, got.IsRemote())

	assert.False(t, sink.spans[1].IsValid(), "an untraced publish stays untraced")
}
