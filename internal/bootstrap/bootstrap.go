// Package bootstrap turns a Config into the store and event channel shared
// by the API server and the standalone reactor.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"todoflow/internal/events"
	"todoflow/internal/events/bus/eventbridge"
	"todoflow/internal/events/bus/kafka"
	"todoflow/internal/events/bus/memory"
	"todoflow/internal/events/bus/redisstream"
	"todoflow/internal/events/metrics"
	"todoflow/internal/gate"
	"todoflow/internal/gate/jwtid"
	"todoflow/internal/gate/sigv4"
	"todoflow/internal/idempotency"
	"todoflow/internal/platform/awsclient"
	"todoflow/internal/platform/config"
	"todoflow/internal/platform/postgres"
	"todoflow/internal/todo/models"
	"todoflow/internal/todo/store"
	id "todoflow/pkg/domain"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Store is every store operation any process needs.
type Store interface {
	Put(ctx context.Context, todo *models.Todo) error
	Query(ctx context.Context, listID id.ListID, req models.PageRequest) (*models.Page, error)
	Delete(ctx context.Context, listID id.ListID, todoID id.TodoID) (*models.Todo, error)
	Confirm(ctx context.Context, key models.Key, kind models.ConfirmationKind, at time.Time) error
	Health(ctx context.Context) error
}

// OpenStore builds the configured backend. The returned close func is never nil.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, func(), error) {
	noop := func() {}
	switch cfg.Store.Backend {
	case config.StoreMemory:
		logger.Warn("using in-memory todo store; data is lost on restart")
		return store.NewInMemory(), noop, nil

	case config.StoreDynamoDB:
		awsCfg, err := awsclient.Load(ctx, "")
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using dynamodb todo store", "table", cfg.Store.TableName)
		return store.NewDynamo(awsclient.DynamoDB(awsCfg), cfg.Store.TableName), noop, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		if err := postgres.Migrate(db, store.Migrations, store.MigrationsDir, logger); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		logger.Info("using postgres todo store")
		return store.NewPostgres(db), func() { _ = db.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Transport is the configured event channel. Subscribe and Run are nil for
// publish-only channels.
type Transport struct {
	Name      string
	Publisher events.Publisher
	Health    HealthChecker
	Subscribe func(pattern events.Pattern, handler events.Handler)
	Run       func(ctx context.Context) error
	Close     func()
}

// TransportDeps are the shared clients a transport may need.
type TransportDeps struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Redis is nil when REDIS_URL is unset.
	Redis goredis.UniversalClient
}

// OpenTransport builds the configured channel. consume asks for the
// subscription side as well; EventBridge ignores it because its consumer is
// the Lambda entrypoint.
func OpenTransport(ctx context.Context, cfg config.Config, deps TransportDeps, consume bool) (*Transport, error) {
	name := cfg.Events.BusName
	switch cfg.Events.Transport {
	case config.TransportMemory:
		bus := memory.New(
			memory.WithLogger(deps.Logger),
			memory.WithMetrics(deps.Metrics),
			memory.WithMaxAttempts(cfg.Reactor.MaxAttempts),
		)
		return &Transport{
			Name:      config.TransportMemory,
			Publisher: bus,
			Health:    bus,
			Subscribe: bus.Subscribe,
			Run:       bus.Run,
			Close:     func() {},
		}, nil

	case config.TransportRedis:
		if deps.Redis == nil {
			return nil, errors.New("redis transport needs a redis client")
		}
		stream := redisstream.New(deps.Redis, name,
			redisstream.WithLogger(deps.Logger),
			redisstream.WithMetrics(deps.Metrics),
			redisstream.WithConsumerGroup(cfg.Reactor.Group, cfg.Reactor.Consumer),
			redisstream.WithMaxAttempts(cfg.Reactor.MaxAttempts),
		)
		t := &Transport{
			Name:      config.TransportRedis,
			Publisher: stream,
			Health:    stream,
			Close:     func() {},
		}
		if consume {
			t.Subscribe = stream.Subscribe
			t.Run = stream.Run
		}
		return t, nil

	case config.TransportKafka:
		if err := kafka.EnsureTopics(ctx, cfg.Events.KafkaBrokers, name, 3, 1); err != nil {
			return nil, err
		}
		producer, err := kafka.NewProducer(cfg.Events.KafkaBrokers, name, deps.Metrics)
		if err != nil {
			return nil, err
		}
		t := &Transport{
			Name:      config.TransportKafka,
			Publisher: producer,
			Health:    producer,
			Close:     producer.Close,
		}
		if consume {
			consumer, err := kafka.NewConsumer(cfg.Events.KafkaBrokers, name, cfg.Reactor.Group,
				kafka.WithLogger(deps.Logger),
				kafka.WithMetrics(deps.Metrics),
				kafka.WithMaxAttempts(cfg.Reactor.MaxAttempts),
			)
			if err != nil {
				producer.Close()
				return nil, err
			}
			t.Subscribe = consumer.Subscribe
			t.Run = consumer.Run
		}
		return t, nil

	case config.TransportEventBridge:
		awsCfg, err := awsclient.Load(ctx, "")
		if err != nil {
			return nil, err
		}
		publisher := eventbridge.NewPublisher(awsclient.EventBridge(awsCfg), name, deps.Metrics)
		return &Transport{
			Name:      config.TransportEventBridge,
			Publisher: publisher,
			Health:    publisher,
			Close:     func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unknown event transport %q", cfg.Events.Transport)
	}
}

// Idempotency picks the redis store when a client is available, otherwise the
// process-local one.
func Idempotency(client goredis.UniversalClient, logger *slog.Logger) idempotency.Store {
	if client == nil {
		logger.Warn("using in-memory idempotency store; keys are not shared between instances")
		return idempotency.NewInMemory()
	}
	return idempotency.NewRedis(client)
}

// Gate registers a verifier for every configured identity scheme.
func Gate(cfg config.Auth, logger *slog.Logger, m *gate.Metrics) (*gate.Gate, error) {
	opts := []gate.Option{gate.WithLogger(logger), gate.WithMetrics(m)}
	schemes := 0
	if len(cfg.SigV4Credentials) > 0 {
		opts = append(opts, gate.WithVerifier(sigv4.Scheme,
			sigv4.New(sigv4.StaticCredentials(cfg.SigV4Credentials), cfg.SigV4Region, cfg.SigV4Service)))
		schemes++
	}
	if cfg.JWTSigningKey != "" {
		opts = append(opts, gate.WithVerifier(jwtid.Scheme,
			jwtid.New(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)))
		schemes++
	}
	if schemes == 0 {
		return nil, errors.New("no caller identities configured")
	}
	return gate.New(opts...), nil
}
