package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/classpilot/aihub-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeEnvelope wraps a successful payload in the shared wire contract.
func writeEnvelope(w http.ResponseWriter, status int, state domain.RequestState) {
	env := domain.Envelope{
		Success:  state.Status == domain.StatusSuccess,
		Data:     state.Data,
		Error:    state.Error,
		Metadata: envelopeMetadata(state),
	}
	writeJSON(w, status, env)
}

func envelopeMetadata(state domain.RequestState) map[string]any {
	md := map[string]any{
		"requestId":  state.ID,
		"status":     state.Status,
		"retryCount": state.RetryCount,
	}
	if state.Data != nil && state.Data.FromCache {
		md["fromCache"] = true
	}
	if state.Data != nil && state.Data.FromMock {
		md["fromMock"] = true
	}
	return md
}

// statusForRequestError maps the terminal error code of a request to the
// HTTP status the caller sees.
func statusForRequestError(rErr *domain.RequestError) int {
	switch rErr.Code {
	case domain.ErrCodeRateLimited, domain.ErrCodeQuota:
		return http.StatusTooManyRequests
	case domain.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrCodeOffline, domain.ErrCodeNetwork, domain.ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	case domain.ErrCodeCancelled:
		// Client-initiated abort; 200 with success=false keeps the envelope
		// contract uniform for UI consumers.
		return http.StatusOK
	default:
		return http.StatusBadGateway
	}
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var disabled *domain.ErrFeatureDisabled
	var notFound *domain.ErrRequestNotFound
	var validation *domain.ErrValidation
	var forbidden *domain.ErrForbidden
	var transition *domain.ErrPhaseTransition

	switch {
	case errors.As(err, &disabled):
		logger.Debug("feature disabled", zap.String("feature", disabled.Feature), zap.String("reason", disabled.Reason))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("request not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &transition):
		logger.Warn("phase transition refused", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
