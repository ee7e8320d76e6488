package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/classpilot/aihub-go/internal/infra/observability"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func loggedRequest(t *testing.T, path string, status int, phase func() string) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)

	mw := observability.ZapLoggerMiddleware(zap.New(core), phase)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return logs
}

func TestRequestLogCarriesRolloutPhase(t *testing.T) {
	logs := loggedRequest(t, "/v1/chat", http.StatusOK, func() string { return "canary" })

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["rollout_phase"] != "canary" {
		t.Errorf("expected the active phase on the log line, got %v", fields["rollout_phase"])
	}
	if fields["status"] != int64(http.StatusOK) {
		t.Errorf("expected status 200, got %v", fields["status"])
	}
}

func TestProbeEndpointsAreNotLogged(t *testing.T) {
	for _, path := range []string{"/ping", "/healthz", "/readyz", "/metrics"} {
		logs := loggedRequest(t, path, http.StatusOK, nil)
		if logs.Len() != 0 {
			t.Errorf("%s: expected no log entries, got %d", path, logs.Len())
		}
	}
}

func TestServerErrorsLogAtErrorLevel(t *testing.T) {
	logs := loggedRequest(t, "/v1/chat", http.StatusInternalServerError, nil)

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one Error-level entry, got %+v", entries)
	}
}
