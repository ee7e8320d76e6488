package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Chat — POST /v1/chat
// ============================================================

func chatHandler(orch *service.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat")
		defer span.End()

		var req domain.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("ai.feature", req.Feature))

		user := UserFromContext(ctx)
		state, err := orch.Execute(ctx, user, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if state.Status == domain.StatusError && state.Error != nil {
			writeEnvelope(w, statusForRequestError(state.Error), state)
			return
		}
		writeEnvelope(w, http.StatusOK, state)
	}
}

// ============================================================
// Chat streaming — POST /v1/chat/stream (SSE relay)
// ============================================================

func chatStreamHandler(orch *service.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat/stream")
		defer span.End()

		var req domain.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		user := UserFromContext(ctx)
		state, err := orch.ExecuteStream(ctx, user, req, func(text string) {
			payload, _ := json.Marshal(map[string]string{"content": text})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		})
		if err != nil {
			// Headers went out already; relay the failure as an SSE event.
			payload, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
			flusher.Flush()
			logger.Debug("stream rejected", zap.Error(err))
			return
		}

		if state.Status == domain.StatusError && state.Error != nil {
			payload, _ := json.Marshal(state.Error)
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
			flusher.Flush()
			return
		}

		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}
