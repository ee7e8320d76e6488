// Package service ties the request store, cache, transport/streaming
// backends, performance tracker and rollout controller into the single
// execute/cancel/retry contract consumed by the HTTP layer.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/classpilot/aihub-go/internal/access"
	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"
	"github.com/classpilot/aihub-go/internal/infra/cache"
	"github.com/classpilot/aihub-go/internal/infra/observability"
	"github.com/classpilot/aihub-go/internal/perf"
	"github.com/classpilot/aihub-go/internal/requeststore"
	"github.com/classpilot/aihub-go/internal/rollout"
	"github.com/classpilot/aihub-go/internal/streaming"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("service/orchestrator")

const defaultFeature = "assistant"

// Orchestrator is the request facade. One instance per process, owned by
// the application root.
type Orchestrator struct {
	store      *requeststore.Store
	cache      *cache.InMemory[*domain.AgentAnswer]
	real       Backend
	mock       Backend
	tracker    *perf.Tracker
	controller *rollout.Controller
	resolver   access.Resolver
	metrics    *observability.Metrics
	logger     *zap.Logger
	bus        *events.Bus
	clock      clock.Clock
	streamCfg  streaming.Config
	cacheTTL   time.Duration
	sf         singleflight.Group
}

// NewOrchestrator wires the facade. A nil clk uses real time.
func NewOrchestrator(
	store *requeststore.Store,
	responseCache *cache.InMemory[*domain.AgentAnswer],
	real Backend,
	mock Backend,
	tracker *perf.Tracker,
	controller *rollout.Controller,
	resolver access.Resolver,
	streamCfg streaming.Config,
	cacheTTL time.Duration,
	metrics *observability.Metrics,
	bus *events.Bus,
	logger *zap.Logger,
	clk clock.Clock,
) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	return &Orchestrator{
		store:      store,
		cache:      responseCache,
		real:       real,
		mock:       mock,
		tracker:    tracker,
		controller: controller,
		resolver:   resolver,
		streamCfg:  streamCfg,
		cacheTTL:   cacheTTL,
		metrics:    metrics,
		bus:        bus,
		logger:     logger,
		clock:      clk,
	}
}

// Execute runs one AI request end to end and returns the terminal request
// state. Access denials and validation problems are returned as typed
// errors before any request state is created.
func (o *Orchestrator) Execute(ctx context.Context, user *domain.User, req domain.ChatRequest) (domain.RequestState, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Execute")
	defer span.End()

	feature := req.Feature
	if feature == "" {
		feature = defaultFeature
	}
	span.SetAttributes(attribute.String("ai.feature", feature))

	if req.Query == "" {
		return domain.RequestState{}, &domain.ErrValidation{Field: "query", Message: "must not be empty"}
	}

	if err := o.checkAccess(feature, user); err != nil {
		return domain.RequestState{}, err
	}

	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	// Cache check happens before any request state is created.
	if req.CacheKey != "" {
		if answer, ok := o.cache.Get(req.CacheKey); ok {
			o.metrics.IncrCacheHit("response")
			cached := *answer
			cached.FromCache = true
			now := time.Now()
			return domain.RequestState{
				ID:          id,
				Status:      domain.StatusSuccess,
				Data:        &cached,
				StartedAt:   &now,
				CompletedAt: &now,
			}, nil
		}
		o.metrics.IncrCacheMiss("response")
	}

	state, reqCtx := o.store.Start(ctx, id, metadataFor(req, feature, user))
	if reqCtx == nil {
		// Already loading: the facade serializes per-id execution, so the
		// caller just observes the in-flight state.
		return state, nil
	}

	o.invoke(reqCtx, state.Generation, id, feature, req, user, nil)

	final, _ := o.store.Get(id)
	return final, nil
}

// ExecuteStream is Execute for the streaming path. Flushed text segments go
// to onFlush in order; progress is tracked by a per-call streaming manager.
func (o *Orchestrator) ExecuteStream(ctx context.Context, user *domain.User, req domain.ChatRequest, onFlush streaming.FlushFunc) (domain.RequestState, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.ExecuteStream")
	defer span.End()

	feature := req.Feature
	if feature == "" {
		feature = defaultFeature
	}
	if req.Query == "" {
		return domain.RequestState{}, &domain.ErrValidation{Field: "query", Message: "must not be empty"}
	}
	if err := o.checkAccess(feature, user); err != nil {
		return domain.RequestState{}, err
	}

	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	state, reqCtx := o.store.Start(ctx, id, metadataFor(req, feature, user))
	if reqCtx == nil {
		return state, nil
	}

	manager := streaming.NewManager(o.streamCfg, onFlush, o.bus, o.metrics, o.logger, o.clock)
	manager.Start(id)

	o.invoke(reqCtx, state.Generation, id, feature, req, user, manager)

	final, _ := o.store.Get(id)
	return final, nil
}

// Cancel aborts an in-flight request. Safe to call twice.
func (o *Orchestrator) Cancel(id string) {
	o.store.Cancel(id)
	o.metrics.IncrRequest("cancelled")
}

// CancelAll aborts every in-flight request; used on shutdown.
func (o *Orchestrator) CancelAll() {
	o.store.CancelAll()
}

// Retry re-executes an errored, retryable request using its recorded
// metadata. Returns false when the store refuses the retry (terminal
// cancel, retry budget spent, or not in error state).
func (o *Orchestrator) Retry(ctx context.Context, id string) (domain.RequestState, bool) {
	reqCtx, ok := o.store.Retry(ctx, id)
	if !ok {
		state, _ := o.store.Get(id)
		return state, false
	}

	state, _ := o.store.Get(id)
	req, feature, user := metadataToRequest(id, state.Metadata)
	o.invoke(reqCtx, state.Generation, id, feature, req, user, nil)

	final, _ := o.store.Get(id)
	return final, true
}

// Get returns the current state for a request id.
func (o *Orchestrator) Get(id string) (domain.RequestState, bool) {
	return o.store.Get(id)
}

// Summary aggregates the whole registry.
func (o *Orchestrator) Summary() domain.RequestSummary {
	return o.store.Summary()
}

// FeatureAccess resolves the effective flag and decision for one feature.
func (o *Orchestrator) FeatureAccess(featureID string, user *domain.User) (domain.FeatureFlagConfig, domain.AccessDecision) {
	flag := o.controller.FlagFor(featureID)
	return flag, o.resolver.CheckFeatureAccess(flag, user)
}

// checkAccess runs the gate chain and converts denials to typed errors.
func (o *Orchestrator) checkAccess(feature string, user *domain.User) error {
	flag := o.controller.FlagFor(feature)
	decision := o.resolver.CheckFeatureAccess(flag, user)
	if decision.Allowed {
		return nil
	}
	return &domain.ErrFeatureDisabled{Feature: feature, Reason: decision.Reason}
}

// invoke drives one backend call and records every downstream consequence:
// store transition, cache fill, perf sample, rollout metric, counters.
// manager is nil for the non-streaming path.
func (o *Orchestrator) invoke(ctx context.Context, gen uint64, id, feature string, req domain.ChatRequest, user *domain.User, manager *streaming.Manager) {
	agentReq := &domain.AgentRequest{Query: req.Query, Feature: feature}
	if user != nil {
		agentReq.UserID = user.ID
	}

	mode := o.controller.Mode(feature)
	start := o.clock.Now()

	result, backendName, err := o.dispatch(ctx, mode, agentReq, req.CacheKey, manager)
	latency := o.clock.Now().Sub(start)

	if err != nil {
		rErr := asRequestError(err)
		o.store.RecordRetries(id, gen, result.Retries)
		o.store.SetError(id, gen, rErr)

		if manager != nil {
			if rErr.Code == domain.ErrCodeCancelled {
				manager.Cancel()
			} else {
				manager.Complete(false, 0)
			}
		}

		// Cancellations are user-initiated, not system failures: they are
		// excluded from rollout health and the perf window.
		if rErr.Code == domain.ErrCodeCancelled {
			o.metrics.IncrRequest("cancelled")
			return
		}

		o.tracker.Record(feature, backendName, latency, false, 0)
		o.controller.UpdateMetrics(false, latency)
		o.metrics.IncrRequest("error")
		o.logger.Warn("ai request failed",
			zap.String("request_id", id),
			zap.String("feature", feature),
			zap.String("code", rErr.Code),
			zap.Duration("latency", latency),
		)
		return
	}

	answer := result.Answer
	o.store.RecordRetries(id, gen, result.Retries)
	o.store.SetSuccess(id, gen, answer)

	if manager != nil {
		manager.Complete(true, answer.TokensUsed)
	}
	if req.CacheKey != "" && !answer.FromMock {
		o.cache.SetWithTTL(req.CacheKey, answer, o.cacheTTL)
	}

	o.tracker.Record(feature, backendName, latency, true, answer.TokensUsed)
	o.controller.UpdateMetrics(true, latency)
	o.metrics.IncrRequest("success")
	o.metrics.RecordTokens("completion", answer.TokensUsed)
}

// dispatch selects the backend for the resolved mode. Hybrid tries the real
// backend and falls back to mock on any terminal failure except a caller
// cancellation; the real failure still counts against rollout health.
func (o *Orchestrator) dispatch(ctx context.Context, mode domain.Mode, req *domain.AgentRequest, cacheKey string, manager *streaming.Manager) (InvokeResult, string, error) {
	switch mode {
	case domain.ModeDisabled:
		return InvokeResult{}, "none", disabledErr(req.Feature)

	case domain.ModeMock:
		result, err := o.call(ctx, o.mock, req, cacheKey, manager)
		return result, o.mock.Name(), err

	case domain.ModeReal:
		result, err := o.call(ctx, o.real, req, cacheKey, manager)
		return result, o.real.Name(), err

	case domain.ModeHybrid:
		result, err := o.call(ctx, o.real, req, cacheKey, manager)
		if err == nil {
			return result, o.real.Name(), nil
		}
		rErr := asRequestError(err)
		if rErr.Code == domain.ErrCodeCancelled {
			return result, o.real.Name(), err
		}

		// Feed the real failure into rollout health before falling back,
		// otherwise hybrid mode would mask every outage.
		o.controller.UpdateMetrics(false, 0)
		o.logger.Warn("hybrid fallback to mock backend", zap.String("code", rErr.Code))

		fallback, ferr := o.call(ctx, o.mock, req, cacheKey, manager)
		return fallback, o.mock.Name(), ferr

	default:
		return InvokeResult{}, "none", disabledErr(req.Feature)
	}
}

// call invokes a backend, coalescing identical cache-keyed requests into a
// single flight for the non-streaming path.
func (o *Orchestrator) call(ctx context.Context, b Backend, req *domain.AgentRequest, cacheKey string, manager *streaming.Manager) (InvokeResult, error) {
	if manager != nil {
		return b.InvokeStream(ctx, req, func(text string, tokens int) error {
			manager.HandleChunk(text, tokens)
			return ctx.Err()
		})
	}

	if cacheKey == "" {
		return b.Invoke(ctx, req)
	}

	v, err, _ := o.sf.Do(cacheKey, func() (any, error) {
		return b.Invoke(ctx, req)
	})
	if err != nil {
		return InvokeResult{}, err
	}
	return v.(InvokeResult), nil
}

func metadataFor(req domain.ChatRequest, feature string, user *domain.User) map[string]any {
	md := map[string]any{
		"query":   req.Query,
		"feature": feature,
	}
	if req.CacheKey != "" {
		md["cacheKey"] = req.CacheKey
	}
	if user != nil {
		md["userID"] = user.ID
		md["userRole"] = user.Role
		md["userEmail"] = user.Email
	}
	return md
}

func metadataToRequest(id string, md map[string]any) (domain.ChatRequest, string, *domain.User) {
	req := domain.ChatRequest{RequestID: id}
	feature := defaultFeature
	var user *domain.User

	if md == nil {
		return req, feature, nil
	}
	if q, ok := md["query"].(string); ok {
		req.Query = q
	}
	if f, ok := md["feature"].(string); ok && f != "" {
		feature = f
		req.Feature = f
	}
	if ck, ok := md["cacheKey"].(string); ok {
		req.CacheKey = ck
	}
	if uid, ok := md["userID"].(string); ok && uid != "" {
		user = &domain.User{ID: uid}
		if role, ok := md["userRole"].(string); ok {
			user.Role = role
		}
		if email, ok := md["userEmail"].(string); ok {
			user.Email = email
		}
	}
	return req, feature, user
}

// asRequestError guarantees a *domain.RequestError shape at the facade
// boundary. Raw context errors must map to CANCELLED/TIMEOUT here: the
// invoke path keys its health-metric exclusion on the CANCELLED code, and a
// user cancel that arrives as context.Canceled would otherwise count as a
// system failure. Anything else is a programming error surfaced as UNKNOWN.
func asRequestError(err error) *domain.RequestError {
	var rErr *domain.RequestError
	if errors.As(err, &rErr) {
		return rErr
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewRequestError(domain.ErrCodeCancelled, "request cancelled by caller", false)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewRequestError(domain.ErrCodeTimeout, "request timed out", true)
	}
	var disabled *domain.ErrFeatureDisabled
	if errors.As(err, &disabled) {
		return domain.NewRequestError(domain.ErrCodeUnknown, disabled.Error(), false)
	}
	return domain.NewRequestError(domain.ErrCodeUnknown, err.Error(), false)
}
