package handler

import (
	"net/http"

	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Request registry
// ============================================================

func listRequestsHandler(orch *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, orch.Summary())
	}
}

func getRequestHandler(orch *service.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "requestId")
		state, ok := orch.Get(id)
		if !ok {
			handleServiceError(w, &domain.ErrRequestNotFound{ID: id}, logger)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func cancelRequestHandler(orch *service.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/requests/{requestId}/cancel")
		defer span.End()

		id := chi.URLParam(r, "requestId")
		if _, ok := orch.Get(id); !ok {
			handleServiceError(w, &domain.ErrRequestNotFound{ID: id}, logger)
			return
		}

		orch.Cancel(id)
		state, _ := orch.Get(id)
		writeJSON(w, http.StatusOK, state)
	}
}

func retryRequestHandler(orch *service.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/requests/{requestId}/retry")
		defer span.End()

		id := chi.URLParam(r, "requestId")
		if _, ok := orch.Get(id); !ok {
			handleServiceError(w, &domain.ErrRequestNotFound{ID: id}, logger)
			return
		}

		state, retried := orch.Retry(ctx, id)
		if !retried {
			logger.Debug("retry refused",
				zap.String("request_id", id),
				zap.String("status", string(state.Status)),
			)
			writeError(w, http.StatusConflict, "request is not retryable")
			return
		}

		if state.Status == domain.StatusError && state.Error != nil {
			writeEnvelope(w, statusForRequestError(state.Error), state)
			return
		}
		writeEnvelope(w, http.StatusOK, state)
	}
}
