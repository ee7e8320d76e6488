package handler

import (
	"net/http"

	"github.com/classpilot/aihub-go/internal/config"
	"github.com/classpilot/aihub-go/internal/infra/observability"
	"github.com/classpilot/aihub-go/internal/perf"
	"github.com/classpilot/aihub-go/internal/rollout"
	"github.com/classpilot/aihub-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(
	orch *service.Orchestrator,
	controller *rollout.Controller,
	tracker *perf.Tracker,
	metrics *observability.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, func() string {
		return string(controller.CurrentPhase())
	}))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(UserAuthMiddleware(cfg.JWTSecret, logger))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(controller, orch))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Chat execution
		r.Post("/chat", chatHandler(orch, logger))
		r.Post("/chat/stream", chatStreamHandler(orch, logger))

		// Request registry
		r.Get("/requests", listRequestsHandler(orch))
		r.Get("/requests/{requestId}", getRequestHandler(orch, logger))
		r.Post("/requests/{requestId}/cancel", cancelRequestHandler(orch, logger))
		r.Post("/requests/{requestId}/retry", retryRequestHandler(orch, logger))

		// Feature flags & access
		r.Get("/features", listFeaturesHandler(controller))
		r.Get("/features/{featureId}/access", featureAccessHandler(orch))

		// Performance metrics
		r.Get("/metrics/perf", perfMetricsHandler(tracker, metrics))

		// Rollout administration (role-gated mutations)
		r.Get("/rollout", rolloutStateHandler(controller))
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(logger, cfg.SuperAdminRole))
			r.Post("/rollout/advance", rolloutAdvanceHandler(controller, logger))
			r.Post("/rollout/rollback", rolloutRollbackHandler(controller, logger))
			r.Post("/features/{featureId}/enable", featureEnableHandler(controller, logger))
			r.Post("/features/{featureId}/disable", featureDisableHandler(controller, logger))
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(controller *rollout.Controller, orch *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := controller.State()
		summary := orch.Summary()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          string(state.Metrics.HealthStatus),
			"phase":           string(state.Phase),
			"active_requests": summary.ActiveCount,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
