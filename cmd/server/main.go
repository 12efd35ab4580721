package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"todoflow/internal/bootstrap"
	eventmetrics "todoflow/internal/events/metrics"
	"todoflow/internal/gate"
	"todoflow/internal/platform/config"
	"todoflow/internal/platform/httpserver"
	"todoflow/internal/platform/logger"
	"todoflow/internal/platform/metrics"
	redisclient "todoflow/internal/platform/redis"
	"todoflow/internal/reactor"
	"todoflow/internal/todo/handler"
	todometrics "todoflow/internal/todo/metrics"
	"todoflow/internal/todo/service"
	httptransport "todoflow/internal/transport/http"
	id "todoflow/pkg/domain"
)

const shutdownGrace = 15 * time.Second

// main wires config, storage, the event channel and both listeners, then
// blocks until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("todoflow stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("todoflow stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	checks := map[string]httptransport.HealthChecker{}

	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var rdb goredis.UniversalClient
	if rc != nil {
		defer rc.Close()
		rdb = rc.Client
		checks["redis"] = rc
	}

	st, closeStore, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	checks["store"] = st

	transport, err := bootstrap.OpenTransport(ctx, cfg, bootstrap.TransportDeps{
		Logger:  log,
		Metrics: eventmetrics.New(reg),
		Redis:   rdb,
	}, cfg.Reactor.Enabled)
	if err != nil {
		return err
	}
	defer transport.Close()
	checks["events"] = transport.Health

	if cfg.Reactor.Enabled && transport.Subscribe != nil {
		dispatcher := reactor.NewDispatcher(st,
			reactor.WithLogger(log),
			reactor.WithMetrics(reactor.NewMetrics(reg)),
		)
		transport.Subscribe(dispatcher.Pattern(), dispatcher.Handle)
		log.Info("reactor subscribed in process", "transport", transport.Name)
	}

	svc, err := service.New(st, transport.Publisher,
		service.WithLogger(log),
		service.WithMetrics(todometrics.New(reg)),
		service.WithIdempotency(bootstrap.Idempotency(rdb, log), cfg.Server.IdempotencyTTL),
		service.WithPendingTTL(2*cfg.Server.RequestTimeout),
	)
	if err != nil {
		return err
	}

	defaultList, err := id.ParseListID(cfg.Server.DefaultListID)
	if err != nil {
		return err
	}

	g, err := bootstrap.Gate(cfg.Auth, log, gate.NewMetrics(reg))
	if err != nil {
		return err
	}

	public := httptransport.NewPublicRouter(httptransport.PublicDeps{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gate:           g,
		RequestTimeout: cfg.Server.RequestTimeout,
		Todos:          handler.New(svc, log, defaultList),
	})
	admin := httptransport.NewAdminRouter(log, reg, checks)

	log.Info("starting todoflow",
		"addr", cfg.Server.Addr,
		"admin_addr", cfg.Server.AdminAddr,
		"store", cfg.Store.Backend,
		"transport", transport.Name,
	)

	// The consumer outlives the listeners: requests still draining after a
	// signal publish events, and the bus must accept and deliver them.
	consumeCtx, stopConsuming := context.WithCancel(context.WithoutCancel(ctx))
	defer stopConsuming()
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	consumerDone := make(chan error, 1)
	if transport.Run != nil {
		go func() {
			err := transport.Run(consumeCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event consumer stopped", "transport", transport.Name, "error", err)
				stopServing()
			} else {
				err = nil
			}
			consumerDone <- err
		}()
	} else {
		consumerDone <- nil
	}

	group, gctx := errgroup.WithContext(serveCtx)
	group.Go(func() error {
		return httpserver.Run(gctx, httpserver.New(cfg.Server.Addr, public), shutdownGrace, log)
	})
	group.Go(func() error {
		return httpserver.Run(gctx, httpserver.New(cfg.Server.AdminAddr, admin), shutdownGrace, log)
	})
	serveErr := group.Wait()

	stopConsuming()
	return errors.Join(serveErr, <-consumerDone)
}
