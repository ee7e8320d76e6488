package handler

import (
	"net/http"

	"github.com/classpilot/aihub-go/internal/rollout"
	"github.com/classpilot/aihub-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Feature flags & access
// ============================================================

// Features the platform currently ships. New AI surfaces register here.
var knownFeatures = []string{
	"assistant",
	"exam_helper",
	"live_class_chat",
	"summary_generator",
}

func listFeaturesHandler(controller *rollout.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flags := make([]any, 0, len(knownFeatures))
		for _, id := range knownFeatures {
			flags = append(flags, controller.FlagFor(id))
		}
		writeJSON(w, http.StatusOK, map[string]any{"features": flags})
	}
}

func featureAccessHandler(orch *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		featureID := chi.URLParam(r, "featureId")
		user := UserFromContext(r.Context())

		flag, decision := orch.FeatureAccess(featureID, user)
		writeJSON(w, http.StatusOK, map[string]any{
			"feature":  flag,
			"decision": decision,
		})
	}
}

func featureEnableHandler(controller *rollout.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		featureID := chi.URLParam(r, "featureId")
		controller.EnableFeature(featureID)
		logger.Info("feature enabled", zap.String("feature", featureID))
		writeJSON(w, http.StatusOK, controller.FlagFor(featureID))
	}
}

func featureDisableHandler(controller *rollout.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		featureID := chi.URLParam(r, "featureId")
		controller.DisableFeature(featureID)
		logger.Warn("feature kill switch engaged", zap.String("feature", featureID))
		writeJSON(w, http.StatusOK, controller.FlagFor(featureID))
	}
}
