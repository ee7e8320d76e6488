// Package transport executes single HTTP calls against the AI backend with
// timeout, client-side rate limiting and retry-with-backoff. All failures
// are normalized into domain.RequestError before they leave this package.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"
	"github.com/classpilot/aihub-go/internal/infra/observability"
	"github.com/classpilot/aihub-go/internal/infra/resilience"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("infra/transport")

// RequestConfig describes one call to the backend.
type RequestConfig struct {
	Method  string
	Path    string
	Body    any
	Headers map[string]string
	Timeout time.Duration // zero means the client default
	Stream  bool          // keep the response body open for SSE consumption
}

// ResponseMeta carries per-call telemetry back to the caller.
type ResponseMeta struct {
	RequestID string        `json:"request_id"`
	Latency   time.Duration `json:"latency"`
	Retries   int           `json:"retries"`
	Status    int           `json:"status"`
}

// Response is a normalized transport result. For streaming calls Body is
// nil and Stream holds the open response body; the caller owns closing it.
type Response struct {
	Body   []byte
	Stream io.ReadCloser
	Meta   ResponseMeta
}

// Client executes HTTP calls against the AI backend.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	cb          *gobreaker.CircuitBreaker
	cfg         resilience.Config
	limiter     *resilience.RateLimiter
	bus         *events.Bus
	metrics     *observability.Metrics
	logger      *zap.Logger
	online      func() bool
	reqChain    []RequestInterceptor
	respChain   []ResponseInterceptor
	errChain    []ErrorInterceptor
	defaultWait time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithConnectivity injects a connectivity signal. When it returns false the
// client rejects immediately with OFFLINE instead of dialing.
func WithConnectivity(fn func() bool) Option {
	return func(c *Client) { c.online = fn }
}

// WithDefaultTimeout sets the per-attempt timeout used when RequestConfig
// carries none. The underlying http.Client should have Timeout 0 so SSE
// bodies are not killed mid-stream; the attempt context is the time box.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultWait = d }
}

// WithRequestInterceptor appends to the ordered request interceptor chain.
func WithRequestInterceptor(i RequestInterceptor) Option {
	return func(c *Client) { c.reqChain = append(c.reqChain, i) }
}

// WithResponseInterceptor appends to the response interceptor chain.
func WithResponseInterceptor(i ResponseInterceptor) Option {
	return func(c *Client) { c.respChain = append(c.respChain, i) }
}

// WithErrorInterceptor appends to the error interceptor chain.
func WithErrorInterceptor(i ErrorInterceptor) Option {
	return func(c *Client) { c.errChain = append(c.errChain, i) }
}

// NewClient creates a transport client for the AI backend.
func NewClient(
	httpClient *http.Client,
	baseURL string,
	cb *gobreaker.CircuitBreaker,
	cfg resilience.Config,
	limiter *resilience.RateLimiter,
	bus *events.Bus,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *Client {
	c := &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		cb:          cb,
		cfg:         cfg,
		limiter:     limiter,
		bus:         bus,
		metrics:     metrics,
		logger:      logger,
		online:      func() bool { return true },
		defaultWait: httpClient.Timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes one call with the full gate chain: connectivity, rate limit,
// interceptors, timeout, classification, retry. The returned error is
// always a *domain.RequestError.
func (c *Client) Do(ctx context.Context, rc RequestConfig) (*Response, error) {
	ctx, span := tracer.Start(ctx, "transport.Do")
	defer span.End()
	span.SetAttributes(attribute.String("http.path", rc.Path))

	start := time.Now()
	requestID := uuid.NewString()

	// 1. Connectivity gate.
	if !c.online() {
		return nil, c.fail(domain.NewRequestError(domain.ErrCodeOffline, "no network connectivity", true))
	}

	// 2. Client-side rate limit gate.
	if ok, wait, used := c.limiter.Allow(); !ok {
		c.metrics.IncrRateLimitHit()
		c.bus.Publish(domain.TopicQuotaExceeded, domain.QuotaEvent{
			Used:        used,
			Limit:       c.limiter.Limit(),
			WaitSeconds: resilience.WaitSeconds(wait),
		})
		rErr := domain.NewRequestError(domain.ErrCodeRateLimited,
			fmt.Sprintf("client-side rate limit reached, retry in %s", wait), true)
		rErr.RetryAfterSeconds = resilience.WaitSeconds(wait)
		return nil, c.fail(rErr)
	} else {
		c.bus.Publish(domain.TopicQuotaUpdated, domain.QuotaEvent{
			Used:  used,
			Limit: c.limiter.Limit(),
		})
	}

	retries := 0
	var resp *Response

	// The breaker wraps the whole retry loop: a backend that fails through
	// its retry budget counts as one breaker failure, matching how the
	// caller experiences it.
	_, err := c.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg,
			func() error {
				r, attemptErr := c.attempt(ctx, rc, requestID)
				if attemptErr != nil {
					return attemptErr
				}
				resp = r
				return nil
			},
			func(err error) (bool, time.Duration) {
				var rErr *domain.RequestError
				if !errors.As(err, &rErr) {
					return false, 0
				}
				// Caller cancellation is terminal; never retried.
				if rErr.Code == domain.ErrCodeCancelled {
					return false, 0
				}
				return rErr.Retryable, time.Duration(rErr.RetryAfterSeconds) * time.Second
			},
			func(attempt int, err error) {
				retries = attempt
				var rErr *domain.RequestError
				if errors.As(err, &rErr) {
					c.metrics.IncrRetry(rErr.Code)
				}
				c.logger.Warn("transport retry",
					zap.String("request_id", requestID),
					zap.String("path", rc.Path),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
			},
		)
		return nil, innerErr
	})

	latency := time.Since(start)
	// Latency is recorded regardless of outcome.
	c.metrics.RecordRequestDuration(rc.Path, "real", latency)

	if err != nil {
		return nil, c.fail(c.normalize(ctx, err))
	}

	resp.Meta.RequestID = requestID
	resp.Meta.Latency = latency
	resp.Meta.Retries = retries
	return resp, nil
}

// attempt performs exactly one HTTP exchange.
func (c *Client) attempt(ctx context.Context, rc RequestConfig, requestID string) (*Response, error) {
	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = c.defaultWait
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// Time-boxed abort merged with the caller's context: a timeout and a
	// manual cancel produce the same terminal shape downstream.
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	streamHandedOff := false
	defer func() {
		if !streamHandedOff {
			cancel()
		}
	}()

	var bodyReader io.Reader
	if rc.Body != nil {
		raw, err := json.Marshal(rc.Body)
		if err != nil {
			return nil, domain.NewRequestError(domain.ErrCodeUnknown, "marshal request body: "+err.Error(), false)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(attemptCtx, rc.Method, c.baseURL+rc.Path, bodyReader)
	if err != nil {
		return nil, domain.NewRequestError(domain.ErrCodeUnknown, "create request: "+err.Error(), false)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if rc.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range rc.Headers {
		req.Header.Set(k, v)
	}

	// 3. Ordered request interceptor chain; may rewrite headers/body.
	for _, i := range c.reqChain {
		if err := i(req); err != nil {
			return nil, domain.NewRequestError(domain.ErrCodeUnknown, "request interceptor: "+err.Error(), false)
		}
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyDialErr(ctx, attemptCtx, err)
	}

	for _, i := range c.respChain {
		i(httpResp)
	}
	c.observeRateHeaders(httpResp)

	if httpResp.StatusCode == http.StatusUnauthorized {
		// Broadcast so the rest of the system forces a global
		// unauthenticated state instead of independently retrying.
		c.bus.Publish(domain.TopicUnauthorized, domain.RequestEvent{RequestID: requestID})
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		return nil, c.classifyStatus(httpResp)
	}

	if rc.Stream {
		// Caller consumes and closes the body; cancel is tied to closing.
		streamHandedOff = true
		return &Response{
			Stream: &cancelOnClose{ReadCloser: httpResp.Body, cancel: cancel},
			Meta:   ResponseMeta{Status: httpResp.StatusCode},
		}, nil
	}

	defer httpResp.Body.Close()
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, domain.NewRequestError(domain.ErrCodeNetwork, "read response body: "+err.Error(), true)
	}
	return &Response{Body: raw, Meta: ResponseMeta{Status: httpResp.StatusCode}}, nil
}

// classifyDialErr maps a transport-level failure to one error code.
func (c *Client) classifyDialErr(callerCtx, attemptCtx context.Context, err error) *domain.RequestError {
	switch {
	case callerCtx.Err() != nil && errors.Is(callerCtx.Err(), context.Canceled):
		return domain.NewRequestError(domain.ErrCodeCancelled, "request cancelled by caller", false)
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return domain.NewRequestError(domain.ErrCodeTimeout, "request timed out: "+err.Error(), true)
	default:
		return domain.NewRequestError(domain.ErrCodeNetwork, err.Error(), true)
	}
}

// classifyStatus maps a non-2xx response to HTTP_<status> with retryable
// and Retry-After extracted from the server where provided.
func (c *Client) classifyStatus(resp *http.Response) *domain.RequestError {
	code := domain.HTTPErrCode(resp.StatusCode)
	retryable := resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= 500

	rErr := domain.NewRequestError(code, fmt.Sprintf("backend returned status %d", resp.StatusCode), retryable)

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			rErr.RetryAfterSeconds = secs
		}
	}

	// A 429 body may carry the normalized failure envelope with retry_after.
	if resp.StatusCode == http.StatusTooManyRequests {
		if rErr.RetryAfterSeconds == 0 {
			var env domain.Envelope
			if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != nil {
				rErr.RetryAfterSeconds = env.Error.RetryAfterSeconds
				if env.Error.Message != "" {
					rErr.Message = env.Error.Message
				}
			}
		}
		rErr.Code = domain.ErrCodeQuota
		rErr.UserMessage = domain.UserMessageFor(domain.ErrCodeQuota)
	}
	return rErr
}

// normalize guarantees the error leaving Do is a *domain.RequestError and
// runs the error interceptor chain on it.
func (c *Client) normalize(ctx context.Context, err error) *domain.RequestError {
	var rErr *domain.RequestError
	switch {
	case errors.As(err, &rErr):
	case errors.Is(err, context.Canceled):
		rErr = domain.NewRequestError(domain.ErrCodeCancelled, "request cancelled by caller", false)
	case errors.Is(err, context.DeadlineExceeded):
		rErr = domain.NewRequestError(domain.ErrCodeTimeout, "request timed out", true)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		rErr = domain.NewRequestError(domain.ErrCodeCircuitOpen, "circuit breaker open for AI backend", true)
	default:
		rErr = domain.NewRequestError(domain.ErrCodeUnknown, err.Error(), false)
	}
	return rErr
}

// fail runs the error interceptor chain before the error leaves the client.
func (c *Client) fail(rErr *domain.RequestError) *domain.RequestError {
	for _, i := range c.errChain {
		if out := i(rErr); out != nil {
			rErr = out
		}
	}
	return rErr
}

// observeRateHeaders publishes server quota headers for observers.
func (c *Client) observeRateHeaders(resp *http.Response) {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	limit := resp.Header.Get("X-RateLimit-Limit")
	if remaining == "" || limit == "" {
		return
	}
	rem, err1 := strconv.Atoi(remaining)
	lim, err2 := strconv.Atoi(limit)
	if err1 != nil || err2 != nil {
		return
	}
	c.bus.Publish(domain.TopicQuotaUpdated, domain.QuotaEvent{Used: lim - rem, Limit: lim})
}

// cancelOnClose ties the attempt's timeout context to the stream body's
// lifetime so streaming reads stay abortable after Do returns.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}
