package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoflow/internal/events"
	"todoflow/internal/events/metrics"
)

func envelope(detailType events.DetailType) events.Envelope {
	return events.Envelope{ID: "evt-" + string(detailType), Source: events.SourceTodos, DetailType: detailType}
}

func startBus(t *testing.T, bus *Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func waitIdle(t *testing.T, bus *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Wait(ctx))
}

func TestPublishRecordsWithoutSubscribers(t *testing.T) {
	bus := New(WithRecording())
	require.NoError(t, bus.Publish(context.Background(), envelope(events.TodoCreated)))
	require.Len(t, bus.Published(), 1)
	assert.Equal(t, events.TodoCreated, bus.Published()[0].DetailType)
}

func TestPublishRetainsNothingByDefault(t *testing.T) {
	bus := New(WithBackoff(0))
	bus.Subscribe(events.TodoLifecycle, func(context.Context, events.Envelope) error { return nil })
	startBus(t, bus)

	for range 1000 {
		require.NoError(t, bus.Publish(context.Background(), envelope(events.TodoCreated)))
	}
	waitIdle(t, bus)

	assert.Empty(t, bus.Published())
	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Nil(t, bus.published)
}

func TestDeliversToMatchingSubscription(t *testing.T) {
	bus := New(WithBackoff(0))
	var created, other atomic.Int32
	bus.Subscribe(events.Pattern{Source: events.SourceTodos, DetailTypes: []events.DetailType{events.TodoCreated}},
		func(context.Context, events.Envelope) error { created.Add(1); return nil })
	bus.Subscribe(events.Pattern{Source: "api.other"},
		func(context.Context, events.Envelope) error { other.Add(1); return nil })
	startBus(t, bus)

	require.NoError(t, bus.Publish(context.Background(), envelope(events.TodoCreated)))
	waitIdle(t, bus)

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(0), other.Load())
}

func TestRedeliversUntilSuccess(t *testing.T) {
	bus := New(WithBackoff(0), WithMaxAttempts(5))
	var calls atomic.Int32
	bus.Subscribe(events.TodoLifecycle, func(context.Context, events.Envelope) error {
		if calls.Add(1) < 3 {
			return errors.New("store unavailable")
		}
		return nil
	})
	startBus(t, bus)

	require.NoError(t, bus.Publish(context.Background(), envelope(events.TodoDeleted)))
	waitIdle(t, bus)

	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, bus.DeadLetters())
}

func TestDeadLettersAfterMaxAttempts(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	bus := New(WithBackoff(0), WithMaxAttempts(3), WithMetrics(m))
	var calls atomic.Int32
	bus.Subscribe(events.TodoLifecycle, func(context.Context, events.Envelope) error {
		calls.Add(1)
		return errors.New("still failing")
	})
	startBus(t, bus)

	require.NoError(t, bus.Publish(context.Background(), envelope(events.TodoCreated)))
	waitIdle(t, bus)

	assert.Equal(t, int32(3), calls.Load())
	dead := bus.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.EqualError(t, dead[0].Err, "still failing")
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.Deliveries.WithLabelValues("memory", metrics.OutcomeDeadLettered)), 0)
}

func TestPermanentErrorsSkipRetries(t *testing.T) {
	bus := New(WithBackoff(0), WithMaxAttempts(5))
	var calls atomic.Int32
	bus.Subscribe(events.TodoLifecycle, func(context.Context, events.Envelope) error {
		calls.Add(1)
		return events.Permanent(errors.New("malformed detail"))
	})
	startBus(t, bus)

	require.NoError(t, bus.Publish(context.Background(), envelope(events.TodoCreated)))
	waitIdle(t, bus)

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, bus.DeadLetters(), 1)
	assert.Equal(t, 1, bus.DeadLetters()[0].Attempts)
}

func TestUnroutableEventIsDroppedNotRetried(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	bus := New(WithMetrics(m))
	bus.Subscribe(events.Pattern{Source: "api.other"}, func(context.Context, events.Envelope) error {
		return errors.New("never called")
	})
	startBus(t, bus)

	require.NoError(t, bus.Publish(context.Background(), envelope(events.TodoCreated)))
	waitIdle(t, bus)

	assert.Empty(t, bus.DeadLetters())
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.Deliveries.WithLabelValues("memory", metrics.OutcomeUnroutable)), 0)
}

func TestRunDrainsQueueOnShutdown(t *testing.T) {
	bus := New(WithWorkers(1))
	var handled atomic.Int32
	bus.Subscribe(events.TodoLifecycle, func(context.Context, events.Envelope) error {
		handled.Add(1)
		return nil
	})
	for range 10 {
		require.NoError(t, bus.Publish(context.Background(), envelope(events.TodoCreated)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))
	assert.Equal(t, int32(10), handled.Load())
}

func TestPublishAfterShutdownFails(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	bus := New(WithMetrics(m))
	var handled atomic.Int32
	bus.Subscribe(events.TodoLifecycle, func(context.Context, events.Envelope) error {
		handled.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))

	err := bus.Publish(context.Background(), envelope(events.TodoDeleted))
	require.ErrorIs(t, err, ErrClosed)
	waitIdle(t, bus)
	assert.Equal(t, int32(0), handled.Load())
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.PublishFailed.WithLabelValues("memory", "TODO_DELETED")), 0)
}

func TestShutdownDeliversEnvelopesFromConcurrentPublishers(t *testing.T) {
	bus := New(WithWorkers(2), WithBackoff(0))
	var handled atomic.Int32
	bus.Subscribe(events.TodoLifecycle, func(context.Context, events.Envelope) error {
		handled.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	var accepted atomic.Int32
	publishers := make(chan struct{})
	go func() {
		defer close(publishers)
		for range 2000 {
			if bus.Publish(context.Background(), envelope(events.TodoCreated)) == nil {
				accepted.Add(1)
			}
		}
	}()
	cancel()
	<-publishers
	require.NoError(t, <-done)

	assert.Equal(t, accepted.Load(), handled.Load())
}
