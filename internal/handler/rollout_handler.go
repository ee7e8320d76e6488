package handler

import (
	"encoding/json"
	"net/http"

	"github.com/classpilot/aihub-go/internal/infra/observability"
	"github.com/classpilot/aihub-go/internal/perf"
	"github.com/classpilot/aihub-go/internal/rollout"

	"go.uber.org/zap"
)

// ============================================================
// Rollout administration
// ============================================================

func rolloutStateHandler(controller *rollout.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"state":  controller.State(),
			"phases": rollout.Table(),
		})
	}
}

func rolloutAdvanceHandler(controller *rollout.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/rollout/advance")
		defer span.End()

		spec, err := controller.AdvanceToNextPhase()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		user := UserFromContext(r.Context())
		logger.Info("rollout advanced",
			zap.String("phase", string(spec.Phase)),
			zap.String("actor", user.ID),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"phase": spec,
			"state": controller.State(),
		})
	}
}

func rolloutRollbackHandler(controller *rollout.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/rollout/rollback")
		defer span.End()

		var body struct {
			Reason string `json:"reason"`
		}
		// Body is optional; a bare POST rolls back with a default reason.
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Reason == "" {
			body.Reason = "manual rollback"
		}

		controller.RollbackToPreviousPhase(body.Reason)

		user := UserFromContext(r.Context())
		logger.Info("rollout rolled back",
			zap.String("reason", body.Reason),
			zap.String("actor", user.ID),
		)
		writeJSON(w, http.StatusOK, controller.State())
	}
}

// ============================================================
// Performance metrics — GET /v1/metrics/perf
// ============================================================

func perfMetricsHandler(tracker *perf.Tracker, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"features": tracker.Snapshot(),
			"counters": metrics.GetSnapshot(),
		})
	}
}
