// Package memory is an in-process event channel with the same delivery
// contract as the durable transports: at-least-once with bounded redelivery
// and a dead-letter list.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"todoflow/internal/events"
	"todoflow/internal/events/metrics"
)

const transportName = "memory"

// ErrClosed is returned by Publish once Run has begun shutting down.
var ErrClosed = errors.New("memory bus is closed")

// DeadLetter is a delivery that exhausted its attempts.
type DeadLetter struct {
	Envelope events.Envelope
	Attempts int
	Err      error
}

type subscription struct {
	pattern events.Pattern
	handler events.Handler
}

// Bus fans published envelopes out to matching subscriptions on a pool of workers.
type Bus struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxAttempts int
	backoff     time.Duration
	workers     int

	queue chan events.Envelope
	record bool

	// closeMu is held shared by Publish and exclusively by Run when it stops
	// accepting envelopes, so nothing is queued after the final drain.
	closeMu sync.RWMutex
	closed  bool

	mu          sync.Mutex
	subs        []subscription
	published   []events.Envelope
	deadLetters []DeadLetter
	inFlight    sync.WaitGroup
}

type Option func(*Bus)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithMaxAttempts bounds deliveries per subscription before dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between attempts; attempt n waits n*d.
func WithBackoff(d time.Duration) Option {
	return func(b *Bus) { b.backoff = d }
}

// WithRecording keeps every published envelope for Published. Tests only;
// the list grows for the life of the bus.
func WithRecording() Option {
	return func(b *Bus) { b.record = true }
}

func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		logger:      slog.Default(),
		maxAttempts: 5,
		backoff:     50 * time.Millisecond,
		workers:     4,
		queue:       make(chan events.Envelope, 1024),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for envelopes matching pattern. Call before Run.
func (b *Bus) Subscribe(pattern events.Pattern, handler events.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, handler: handler})
}

// Publish queues env for delivery. It only blocks when the queue is full and
// fails with ErrClosed once the bus is shutting down.
func (b *Bus) Publish(ctx context.Context, env events.Envelope) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		b.metrics.IncPublishFailed(transportName, env.DetailType.String())
		return ErrClosed
	}

	b.mu.Lock()
	if b.record {
		b.published = append(b.published, env)
	}
	hasSubs := len(b.subs) > 0
	b.mu.Unlock()

	if !hasSubs {
		b.metrics.IncPublished(transportName, env.DetailType.String())
		return nil
	}
	b.inFlight.Add(1)
	select {
	case b.queue <- env:
		b.metrics.IncPublished(transportName, env.DetailType.String())
		return nil
	case <-ctx.Done():
		b.inFlight.Done()
		b.metrics.IncPublishFailed(transportName, env.DetailType.String())
		return ctx.Err()
	}
}

// Run delivers queued envelopes until ctx is cancelled. It then refuses new
// envelopes, waits out any Publish already in progress, and delivers what is
// left in the queue before returning.
func (b *Bus) Run(ctx context.Context) error {
	stop := make(chan struct{})
	deliverCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for range b.workers {
		g.Go(func() error {
			for {
				select {
				case env := <-b.queue:
					b.dispatch(deliverCtx, env)
				case <-stop:
					return nil
				}
			}
		})
	}

	<-ctx.Done()
	// Workers keep consuming here so a Publish blocked on a full queue can finish.
	b.closeMu.Lock()
	b.closed = true
	b.closeMu.Unlock()

	close(stop)
	err := g.Wait()
	b.drain()
	return err
}

func (b *Bus) drain() {
	for {
		select {
		case env := <-b.queue:
			b.dispatch(context.Background(), env)
		default:
			return
		}
	}
}

// Wait blocks until every queued envelope has been handled or ctx expires.
func (b *Bus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatch(ctx context.Context, env events.Envelope) {
	defer b.inFlight.Done()

	b.mu.Lock()
	subs := slices.Clone(b.subs)
	b.mu.Unlock()

	routed := false
	for _, sub := range subs {
		if !sub.pattern.Matches(env) {
			continue
		}
		routed = true
		b.deliver(ctx, sub, env)
	}
	if !routed {
		b.logger.WarnContext(ctx, "no subscription for event, dropping",
			"event_id", env.ID,
			"source", env.Source,
			"detail_type", env.DetailType,
		)
		b.metrics.IncDelivery(transportName, metrics.OutcomeUnroutable)
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, env events.Envelope) {
	var err error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if err = sub.handler(ctx, env); err == nil {
			b.metrics.IncDelivery(transportName, metrics.OutcomeAcked)
			return
		}
		if events.IsPermanent(err) {
			b.deadLetter(ctx, env, attempt, err)
			return
		}
		b.metrics.IncDelivery(transportName, metrics.OutcomeRetried)
		b.logger.WarnContext(ctx, "event delivery failed, retrying",
			"event_id", env.ID,
			"detail_type", env.DetailType,
			"attempt", attempt,
			"error", err,
		)
		if attempt < b.maxAttempts && b.backoff > 0 {
			time.Sleep(time.Duration(attempt) * b.backoff)
		}
	}
	b.deadLetter(ctx, env, b.maxAttempts, err)
}

func (b *Bus) deadLetter(ctx context.Context, env events.Envelope, attempts int, err error) {
	b.mu.Lock()
	b.deadLetters = append(b.deadLetters, DeadLetter{Envelope: env, Attempts: attempts, Err: err})
	b.mu.Unlock()
	b.metrics.IncDelivery(transportName, metrics.OutcomeDeadLettered)
	b.logger.ErrorContext(ctx, "event dead-lettered",
		"event_id", env.ID,
		"detail_type", env.DetailType,
		"attempts", attempts,
		"error", err,
	)
}

// Published returns every envelope accepted so far, in publish order. It is
// empty unless the bus was built WithRecording.
func (b *Bus) Published() []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.published)
}

// DeadLetters returns deliveries that exhausted their attempts.
func (b *Bus) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.deadLetters)
}

func (b *Bus) Health(context.Context) error { return nil }
