//go:build integration

package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoflow/internal/events"
	"todoflow/internal/platform/config"
	"todoflow/internal/todo/models"
	"todoflow/pkg/testutil/containers"
)

func TestOpenStorePostgresMigrates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.NewPostgresContainer(t)
	cfg := memoryConfig()
	cfg.Store = config.Store{Backend: config.StorePostgres, DatabaseURL: pg.DSN}
	ctx := context.Background()

	// A second open must find the schema already applied.
	for range 2 {
		st, closeStore, err := OpenStore(ctx, cfg, discard())
		require.NoError(t, err)
		require.NoError(t, st.Health(ctx))

		todo, err := models.NewTodo("groceries", "Buy milk", "", time.Now())
		require.NoError(t, err)
		require.NoError(t, st.Put(ctx, todo))
		closeStore()
	}
}

func TestOpenTransportRedisRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.NewRedisContainer(t)
	cfg := memoryConfig()
	cfg.Events.Transport = config.TransportRedis
	cfg.Reactor.Group = "bootstrap-test"
	cfg.Reactor.Consumer = "c1"

	tr, err := OpenTransport(context.Background(), cfg, TransportDeps{Logger: discard(), Redis: rc.Client}, true)
	require.NoError(t, err)
	defer tr.Close()

	got := make(chan events.Envelope, 1)
	tr.Subscribe(events.TodoLifecycle, func(_ context.Context, env events.Envelope) error {
		select {
		case got <- env:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	todo, err := models.NewTodo("groceries", "Buy milk", "", time.Now())
	require.NoError(t, err)
	env, err := events.NewTodoEvent(events.TodoCreated, todo, time.Now())
	require.NoError(t, err)

	// The group may be created after the first publish; keep publishing until one lands.
	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case delivered := <-got:
			assert.Equal(t, env.ID, delivered.ID)
			return
		case <-tick.C:
			require.NoError(t, tr.Publisher.Publish(ctx, env))
		case <-deadline:
			t.Fatal("event was not delivered")
		}
	}
}
