// Command reactor consumes todo lifecycle events outside the API process.
// With EVENT_TRANSPORT=eventbridge it runs as the rule-target Lambda;
// with redis or kafka it is a long-running consumer-group member.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"todoflow/internal/bootstrap"
	"todoflow/internal/events/bus/eventbridge"
	eventmetrics "todoflow/internal/events/metrics"
	"todoflow/internal/platform/config"
	"todoflow/internal/platform/httpserver"
	"todoflow/internal/platform/logger"
	redisclient "todoflow/internal/platform/redis"
	"todoflow/internal/reactor"
	httptransport "todoflow/internal/transport/http"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	if cfg.Events.Transport == config.TransportEventBridge {
		if err := runLambda(cfg, log); err != nil {
			log.Error("reactor lambda failed to start", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runConsumer(ctx, cfg, log); err != nil {
		log.Error("reactor stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("reactor stopped")
}

// runLambda hands control to the Lambda runtime; it only returns on setup errors.
func runLambda(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	st, closeStore, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher := reactor.NewDispatcher(st,
		reactor.WithLogger(log),
		reactor.WithMetrics(reactor.NewMetrics(reg)),
	)
	lambda.Start(eventbridge.LambdaHandler(dispatcher.Handle, dispatcher.Pattern(), log, eventmetrics.New(reg)))
	return nil
}

func runConsumer(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Events.Transport == config.TransportMemory {
		return fmt.Errorf("the %s transport is in-process only; run the reactor inside the server", config.TransportMemory)
	}

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
	}, true)
	if err != nil {
		return err
	}
	defer transport.Close()
	checks["events"] = transport.Health

	dispatcher := reactor.NewDispatcher(st,
		reactor.WithLogger(log),
		reactor.WithMetrics(reactor.NewMetrics(reg)),
	)
	transport.Subscribe(dispatcher.Pattern(), dispatcher.Handle)

	log.Info("starting reactor",
		"transport", transport.Name,
		"group", cfg.Reactor.Group,
		"consumer", cfg.Reactor.Consumer,
		"admin_addr", cfg.Server.AdminAddr,
	)

	admin := httptransport.NewAdminRouter(log, reg, checks)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpserver.Run(gctx, httpserver.New(cfg.Server.AdminAddr, admin), 10*time.Second, log)
	})
	group.Go(func() error {
		if err := transport.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return group.Wait()
}
