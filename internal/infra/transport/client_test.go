package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"
	"github.com/classpilot/aihub-go/internal/infra/observability"
	"github.com/classpilot/aihub-go/internal/infra/resilience"
	"github.com/classpilot/aihub-go/internal/infra/transport"

	"go.uber.org/zap"
)

func fastCfg() resilience.Config {
	return resilience.Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   5 * time.Millisecond,
	}
}

func newTestClient(baseURL string, cfg resilience.Config, limiter *resilience.RateLimiter, opts ...transport.Option) (*transport.Client, *events.Bus) {
	if limiter == nil {
		limiter = resilience.NewRateLimiter(100, time.Minute, nil)
	}
	bus := events.NewBus()
	c := transport.NewClient(
		&http.Client{},
		baseURL,
		resilience.NewCircuitBreaker("transport-test"),
		cfg,
		limiter,
		bus,
		observability.NewMetrics(),
		zap.NewNop(),
		opts...,
	)
	return c, bus
}

func asRequestError(t *testing.T, err error) *domain.RequestError {
	t.Helper()
	var rErr *domain.RequestError
	if !errors.As(err, &rErr) {
		t.Fatalf("expected *domain.RequestError, got %T: %v", err, err)
	}
	return rErr
}

func TestDoRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"answer": "ok"})
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastCfg(), nil)
	resp, err := client.Do(context.Background(), transport.RequestConfig{Method: http.MethodPost, Path: "/chat"})
	if err != nil {
		t.Fatalf("expected success on the third attempt, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if resp.Meta.Retries != 2 {
		t.Errorf("expected retry count 2, got %d", resp.Meta.Retries)
	}
	if resp.Meta.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.Meta.Status)
	}
	var body map[string]string
	if err := json.Unmarshal(resp.Body, &body); err != nil || body["answer"] != "ok" {
		t.Errorf("unexpected body %q (%v)", resp.Body, err)
	}
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := fastCfg()
	cfg.MaxRetries = 2
	client, _ := newTestClient(srv.URL, cfg, nil)
	_, err := client.Do(context.Background(), transport.RequestConfig{Method: http.MethodPost, Path: "/chat"})

	rErr := asRequestError(t, err)
	if rErr.Code != "HTTP_503" {
		t.Errorf("expected HTTP_503, got %s", rErr.Code)
	}
	if !rErr.Retryable {
		t.Error("a 503 should stay marked retryable for the caller")
	}
	if got := calls.Load(); got != 3 { // initial + 2 retries
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastCfg(), nil)
	_, err := client.Do(context.Background(), transport.RequestConfig{Method: http.MethodPost, Path: "/chat"})

	rErr := asRequestError(t, err)
	if rErr.Code != "HTTP_400" {
		t.Errorf("expected HTTP_400, got %s", rErr.Code)
	}
	if rErr.Retryable {
		t.Error("a 400 must not be retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestDoMapsServer429ToQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := fastCfg()
	cfg.MaxRetries = 0 // don't sit out the server wait in a test
	client, _ := newTestClient(srv.URL, cfg, nil)
	_, err := client.Do(context.Background(), transport.RequestConfig{Method: http.MethodPost, Path: "/chat"})

	rErr := asRequestError(t, err)
	if rErr.Code != domain.ErrCodeQuota {
		t.Errorf("expected %s, got %s", domain.ErrCodeQuota, rErr.Code)
	}
	if rErr.RetryAfterSeconds != 7 {
		t.Errorf("expected Retry-After 7s, got %d", rErr.RetryAfterSeconds)
	}
}

func TestDoOfflineShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("the backend must not be dialed while offline")
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastCfg(), nil,
		transport.WithConnectivity(func() bool { return false }))
	_, err := client.Do(context.Background(), transport.RequestConfig{Method: http.MethodPost, Path: "/chat"})

	rErr := asRequestError(t, err)
	if rErr.Code != domain.ErrCodeOffline {
		t.Errorf("expected %s, got %s", domain.ErrCodeOffline, rErr.Code)
	}
}

func TestDoClientRateLimitRejectsAndPublishes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	limiter := resilience.NewRateLimiter(1, time.Minute, nil)
	client, bus := newTestClient(srv.URL, fastCfg(), limiter)

	var quotaEvents int
	bus.Subscribe(domain.TopicQuotaExceeded, func(topic domain.EventTopic, payload any) {
		quotaEvents++
	})

	if _, err := client.Do(context.Background(), transport.RequestConfig{Method: http.MethodGet, Path: "/"}); err != nil {
		t.Fatalf("first call should pass the limiter: %v", err)
	}

	_, err := client.Do(context.Background(), transport.RequestConfig{Method: http.MethodGet, Path: "/"})
	rErr := asRequestError(t, err)
	if rErr.Code != domain.ErrCodeRateLimited {
		t.Errorf("expected %s, got %s", domain.ErrCodeRateLimited, rErr.Code)
	}
	if rErr.RetryAfterSeconds <= 0 {
		t.Errorf("expected a positive retry_after, got %d", rErr.RetryAfterSeconds)
	}
	if quotaEvents != 1 {
		t.Errorf("expected 1 quota.exceeded event, got %d", quotaEvents)
	}
}

func TestDoPublishesUnauthorizedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, bus := newTestClient(srv.URL, fastCfg(), nil)

	var unauthorized int
	bus.Subscribe(domain.TopicUnauthorized, func(topic domain.EventTopic, payload any) {
		unauthorized++
	})

	_, err := client.Do(context.Background(), transport.RequestConfig{Method: http.MethodGet, Path: "/chat"})
	rErr := asRequestError(t, err)
	if rErr.Code != domain.ErrCodeUnauthorized {
		t.Errorf("expected %s, got %s", domain.ErrCodeUnauthorized, rErr.Code)
	}
	if rErr.Retryable {
		t.Error("a 401 must not be retried")
	}
	if unauthorized != 1 {
		t.Errorf("expected 1 auth.unauthorized event, got %d", unauthorized)
	}
}

func TestDoCancelledCallerContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, _ := newTestClient(srv.URL, fastCfg(), nil)
	_, err := client.Do(ctx, transport.RequestConfig{Method: http.MethodGet, Path: "/chat"})

	rErr := asRequestError(t, err)
	if rErr.Code != domain.ErrCodeCancelled {
		t.Errorf("expected %s, got %s", domain.ErrCodeCancelled, rErr.Code)
	}
	if rErr.Retryable {
		t.Error("cancellation is terminal, never retryable")
	}
}

func TestDoRunsRequestInterceptors(t *testing.T) {
	var gotUA, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastCfg(), nil,
		transport.WithRequestInterceptor(transport.UserAgentInterceptor("aihub-test/1.0")))
	resp, err := client.Do(context.Background(), transport.RequestConfig{Method: http.MethodGet, Path: "/chat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUA != "aihub-test/1.0" {
		t.Errorf("expected interceptor-set user agent, got %q", gotUA)
	}
	if gotRequestID == "" {
		t.Error("expected a generated X-Request-ID header")
	}
	if resp.Meta.RequestID != gotRequestID {
		t.Errorf("meta request id %q does not match the header %q", resp.Meta.RequestID, gotRequestID)
	}
}
