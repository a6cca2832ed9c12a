// Package notify delivers ledger events to the configured sink.
//
// The ledger hands events to a Dispatcher, which queues them and returns at
// once. Workers deliver each event with retries behind a circuit breaker, so a
// slow or dead broker never holds up a stock operation. Delivery is
// at-least-once and best effort: an event that exhausts its retries is logged
// and dropped.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/domain/event"
	"github.com/xiebiao/stockledger/pkg/circuitbreaker"
	"github.com/xiebiao/stockledger/pkg/metrics"
)

// Sink writes one event to a transport.
type Sink interface {
	Name() string
	Send(ctx context.Context, e event.Event) error
	Close() error
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("dispatcher closed")

// Options tunes a Dispatcher. Zero values take defaults.
type Options struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	Backoff        time.Duration
	PublishTimeout time.Duration
	Breaker        circuitbreaker.Config
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
}

// envelope carries the publisher's span so sinks can inject it into message
// headers after the request has returned.
type envelope struct {
	span  trace.SpanContext
	event event.Event
}

// Dispatcher queues events and delivers them to a Sink from a worker pool.
type Dispatcher struct {
	sink    Sink
	breaker *circuitbreaker.CircuitBreaker
	opts    Options
	logger  *zap.Logger

	queue chan envelope
	wg    sync.WaitGroup

	// stop aborts in-flight retries once Close gives up waiting.
	stop     context.Context
	stopFunc context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts opts.Workers delivery workers.
func NewDispatcher(sink Sink, opts Options, logger *zap.Logger) *Dispatcher {
	metrics.InitMetrics()
	opts.setDefaults()

	breakerCfg := opts.Breaker
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		logger.Warn("event sink breaker changed state",
			zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	stop, stopFunc := context.WithCancel(context.Background())
	d := &Dispatcher{
		sink:     sink,
		breaker:  circuitbreaker.NewCircuitBreaker("events-"+sink.Name(), breakerCfg),
		opts:     opts,
		logger:   logger,
		queue:    make(chan envelope, opts.QueueSize),
		stop:     stop,
		stopFunc: stopFunc,
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}

	logger.Info("event dispatcher started",
		zap.String("sink", sink.Name()), zap.Int("workers", opts.Workers), zap.Int("queue_size", opts.QueueSize))
	return d
}

// Publish queues e together with the span context found in ctx. It blocks only
// while the queue is full, for as long as ctx allows.
func (d *Dispatcher) Publish(ctx context.Context, e event.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.EventsDroppedTotal.WithLabelValues(string(e.Type), "closed").Inc()
		return ErrClosed
	}

	select {
	case d.queue <- envelope{span: trace.SpanContextFromContext(ctx), event: e}:
		metrics.EventQueueDepth.Set(float64(len(d.queue)))
		return nil
	case <-ctx.Done():
		metrics.EventsDroppedTotal.WithLabelValues(string(e.Type), "queue_full").Inc()
		return fmt.Errorf("enqueue %s: %w", e.Type, ctx.Err())
	}
}

// Close stops accepting events and waits for the queue to drain, or for ctx
// to end, whichever comes first. It then closes the sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		d.stopFunc()
		<-drained
		err = fmt.Errorf("drain event queue: %w", ctx.Err())
	}
	d.stopFunc()

	d.logger.Info("event dispatcher stopped", zap.String("sink", d.sink.Name()))
	return errors.Join(err, d.sink.Close())
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for env := range d.queue {
		metrics.EventQueueDepth.Set(float64(len(d.queue)))
		d.deliver(env)
	}
}

func (d *Dispatcher) deliver(env envelope) {
	e := env.event
	base := d.stop
	if env.span.IsValid() {
		base = trace.ContextWithRemoteSpanContext(d.stop, env.span)
	}

	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err = d.breaker.Execute(func() error {
			ctx, cancel := context.WithTimeout(base, d.opts.PublishTimeout)
			defer cancel()
			return d.sink.Send(ctx, e)
		})
		if err == nil {
			metrics.EventsPublishedTotal.WithLabelValues(string(e.Type), "success").Inc()
			metrics.CircuitBreakerRequests.WithLabelValues(d.breaker.Name(), "success").Inc()
			return
		}

		result := "failure"
		if errors.Is(err, circuitbreaker.ErrOpenState) {
			result = "rejected"
		}
		metrics.EventsPublishedTotal.WithLabelValues(string(e.Type), result).Inc()
		metrics.CircuitBreakerRequests.WithLabelValues(d.breaker.Name(), result).Inc()

		if attempt == d.opts.MaxAttempts || !d.wait(attempt) {
			break
		}
	}

	metrics.EventsDroppedTotal.WithLabelValues(string(e.Type), "retries_exhausted").Inc()
	d.logger.Error("event dropped",
		zap.String("event_id", e.ID), zap.String("type", string(e.Type)), zap.String("sku", e.SKU),
		zap.String("reservation_id", e.ReservationID), zap.Error(err))
}

// wait sleeps before the next attempt. It reports false once the dispatcher
// is stopping.
func (d *Dispatcher) wait(attempt int) bool {
	if d.opts.Backoff <= 0 {
		return d.stop.Err() == nil
	}
	t := time.NewTimer(d.opts.Backoff * time.Duration(1<<(attempt-1)))
	defer t.Stop()
	select {
	case <-d.stop.Done():
		return false
	case <-t.C:
		return true
	}
}
