// Package httptransport assembles the public and admin routers. Handlers stay
// in their domain packages; this package only decides middleware order.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"todoflow/internal/gate"
	"todoflow/internal/platform/metrics"
	"todoflow/internal/platform/middleware"
	"todoflow/internal/todo/handler"
	dErrors "todoflow/pkg/domain-errors"
	"todoflow/pkg/platform/httputil"
)

// PublicDeps are the collaborators of the gated listener.
type PublicDeps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gate           *gate.Gate
	RequestTimeout time.Duration
	Todos          *handler.Handler
}

// NewPublicRouter wires the todo API behind the gate. The gate runs before
// routing resolves, so unknown paths and methods are refused the same way.
func NewPublicRouter(deps PublicDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.LatencyMiddleware(deps.Metrics))
	r.Use(deps.Gate.RequireSignature)
	r.Use(middleware.Timeout(deps.RequestTimeout))
	r.Use(middleware.ContentTypeJSON)

	deps.Todos.Register(r)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	})
	return r
}

// HealthChecker is implemented by stores, transports and clients.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewAdminRouter serves /metrics from gatherer and /health from checks.
func NewAdminRouter(logger *slog.Logger, gatherer prometheus.Gatherer, checks map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", healthHandler(logger, checks))
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthHandler(logger *slog.Logger, checks map[string]HealthChecker) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		for _, name := range names {
			if err := checks[name].Health(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
				resp.Status = "degraded"
				resp.Checks[name] = "unavailable"
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
