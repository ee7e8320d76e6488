package rollout

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"
	"github.com/classpilot/aihub-go/internal/infra/observability"

	"go.uber.org/zap"
)

// ewmaAlpha is the smoothing factor for the global average latency.
const ewmaAlpha = 0.1

// minRollbackSamples is the statistical floor before aggregate health may
// trigger an automatic rollback. Without it, a single failure right after a
// window reset reads as a 100% error rate and every subsequent call would
// roll back again.
const minRollbackSamples = 10

// Config holds the controller's thresholds.
type Config struct {
	AutoRollback       bool
	ErrorThreshold     float64 // percent; critical at or above
	LatencyThresholdMs float64 // degraded above
	MinSuccessRate     float64 // percent; required to advance
	MinSampleSize      int64   // required to advance

	// Flag defaults merged into per-feature configs.
	BetaUserIDs     []string
	InternalDomains []string
	AllowedRoles    []string
}

// Controller is the single source of truth for "what fraction of users get
// the real backend, and under what constraints". One instance per process,
// explicitly constructed and injected (no package-level singleton).
type Controller struct {
	mu    sync.Mutex
	clock clock.Clock
	cfg   Config

	phase           domain.Phase
	metrics         domain.TransitionMetrics
	history         []domain.RollbackEvent
	lastPhaseChange time.Time
	maxLatencyMs    float64 // feeds the P95 proxy

	// killed features are forced to the rollback mode regardless of phase.
	killed map[string]bool

	bus    *events.Bus
	prom   *observability.Metrics
	logger *zap.Logger
}

// NewController creates a controller starting at the given phase. A nil clk
// uses real time.
func NewController(initial domain.Phase, cfg Config, bus *events.Bus, prom *observability.Metrics, logger *zap.Logger, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if _, ok := SpecFor(initial); !ok {
		initial = FirstPhase()
	}
	c := &Controller{
		clock:           clk,
		cfg:             cfg,
		phase:           initial,
		metrics:         freshWindow(),
		killed:          map[string]bool{},
		bus:             bus,
		prom:            prom,
		logger:          logger,
		lastPhaseChange: clk.Now(),
	}
	c.prom.SetPhase(string(initial), AllPhases())
	return c
}

func freshWindow() domain.TransitionMetrics {
	return domain.TransitionMetrics{HealthStatus: domain.HealthHealthy}
}

// UpdateMetrics ingests one completed request and immediately re-evaluates
// health and auto-rollback. Cancelled requests must not be fed here.
func (c *Controller) UpdateMetrics(success bool, latency time.Duration) {
	c.mu.Lock()

	m := &c.metrics
	m.TotalRequests++
	if success {
		m.SuccessfulRequests++
	} else {
		m.FailedRequests++
	}

	ms := float64(latency.Milliseconds())
	if m.AverageLatencyMs == 0 {
		m.AverageLatencyMs = ms
	} else {
		m.AverageLatencyMs = ewmaAlpha*ms + (1-ewmaAlpha)*m.AverageLatencyMs
	}
	if ms > c.maxLatencyMs {
		c.maxLatencyMs = ms
	}
	// Running-max proxy, not a true percentile. Inherited behavior; the
	// exact windowed P95 lives in the perf tracker.
	m.P95LatencyMs = c.maxLatencyMs * 0.95

	m.ErrorRate = float64(m.FailedRequests) / float64(m.TotalRequests) * 100
	m.SuccessRate = 100 - m.ErrorRate
	m.HealthStatus = c.healthLocked()

	shouldRollback := c.cfg.AutoRollback &&
		m.HealthStatus == domain.HealthCritical &&
		m.TotalRequests >= minRollbackSamples &&
		c.phase != FirstPhase()

	if !shouldRollback {
		c.mu.Unlock()
		return
	}
	c.rollbackLocked("automatic rollback: error rate critical", true)
	c.mu.Unlock()
}

// healthLocked derives health from the current window and thresholds.
// critical: errorRate >= threshold; degraded: errorRate >= 0.7*threshold or
// average latency above the latency threshold.
func (c *Controller) healthLocked() domain.HealthStatus {
	m := c.metrics
	if m.TotalRequests == 0 {
		return domain.HealthHealthy
	}
	switch {
	case m.ErrorRate >= c.cfg.ErrorThreshold:
		return domain.HealthCritical
	case m.ErrorRate >= 0.7*c.cfg.ErrorThreshold || m.AverageLatencyMs > c.cfg.LatencyThresholdMs:
		return domain.HealthDegraded
	default:
		return domain.HealthHealthy
	}
}

// AdvanceToNextPhase moves one step up the ladder. It refuses, with the
// reason, unless the window shows successRate >= MinSuccessRate over at
// least MinSampleSize requests.
func (c *Controller) AdvanceToNextPhase() (domain.PhaseSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	spec, _ := SpecFor(c.phase)
	if spec.Next == "" {
		return spec, &domain.ErrPhaseTransition{From: string(c.phase), Reason: "already at terminal phase"}
	}
	if c.metrics.TotalRequests < c.cfg.MinSampleSize {
		return spec, &domain.ErrPhaseTransition{
			From:   string(c.phase),
			Reason: "insufficient data: need more completed requests before advancing",
		}
	}
	if c.metrics.SuccessRate < c.cfg.MinSuccessRate {
		return spec, &domain.ErrPhaseTransition{
			From:   string(c.phase),
			Reason: "success rate below the advancement floor",
		}
	}

	from := c.phase
	c.phase = spec.Next
	c.resetWindowLocked()
	c.lastPhaseChange = c.clock.Now()
	c.prom.SetPhase(string(c.phase), AllPhases())

	c.logger.Info("rollout advanced",
		zap.String("from", string(from)),
		zap.String("to", string(c.phase)),
	)
	c.bus.Publish(domain.TopicPhaseChanged, domain.PhaseChangeEvent{
		From: from, To: c.phase, At: c.lastPhaseChange,
	})

	next, _ := SpecFor(c.phase)
	return next, nil
}

// RollbackToPreviousPhase manually steps one phase back.
func (c *Controller) RollbackToPreviousPhase(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbackLocked(reason, false)
}

// rollbackLocked appends the audit event, steps back, resets the window and
// notifies observers. Warns and does nothing at the first phase.
func (c *Controller) rollbackLocked(reason string, automatic bool) {
	spec, _ := SpecFor(c.phase)
	if spec.Previous == "" {
		c.logger.Warn("rollback requested at first phase; ignoring",
			zap.String("phase", string(c.phase)),
			zap.String("reason", reason),
		)
		return
	}

	now := c.clock.Now()
	c.history = append(c.history, domain.RollbackEvent{
		Timestamp: now,
		Phase:     c.phase,
		Reason:    reason,
		Metrics:   c.metrics, // snapshot before the window reset
		Automatic: automatic,
	})

	from := c.phase
	c.phase = spec.Previous
	// Fresh window avoids carrying stale failure data into the rolled-back
	// phase. Completions already in flight land in the new window; the
	// minor undercount is accepted.
	c.resetWindowLocked()
	c.lastPhaseChange = now

	c.prom.IncrRollback(automatic)
	c.prom.SetPhase(string(c.phase), AllPhases())
	c.logger.Warn("rollout rolled back",
		zap.String("from", string(from)),
		zap.String("to", string(c.phase)),
		zap.String("reason", reason),
		zap.Bool("automatic", automatic),
	)
	c.bus.Publish(domain.TopicRollback, domain.PhaseChangeEvent{
		From: from, To: c.phase, Rollback: true, Automatic: automatic,
		Reason: reason, At: now,
	})
}

func (c *Controller) resetWindowLocked() {
	c.metrics = freshWindow()
	c.maxLatencyMs = 0
}

// DisableFeature is the emergency kill switch: the feature is forced to the
// rollback mode immediately, independent of the global phase.
func (c *Controller) DisableFeature(featureID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed[featureID] = true
	c.logger.Warn("feature kill switch engaged", zap.String("feature", featureID))
}

// EnableFeature clears the kill switch for a feature.
func (c *Controller) EnableFeature(featureID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.killed, featureID)
	c.logger.Info("feature kill switch cleared", zap.String("feature", featureID))
}

// FeatureKilled reports whether the kill switch is engaged.
func (c *Controller) FeatureKilled(featureID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed[featureID]
}

// CurrentPhase returns the active phase.
func (c *Controller) CurrentPhase() domain.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Mode resolves the backend mode a feature runs under: the phase's target
// mode, or mock when the feature is killed (never fully off, so the UI can
// degrade gracefully instead of breaking).
func (c *Controller) Mode(featureID string) domain.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.killed[featureID] {
		return domain.ModeMock
	}
	spec, _ := SpecFor(c.phase)
	return spec.TargetMode
}

// FlagFor builds the effective feature flag config for the resolver:
// current phase strategy plus configured allow-lists, with the kill switch
// applied.
func (c *Controller) FlagFor(featureID string) domain.FeatureFlagConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	spec, _ := SpecFor(c.phase)
	flag := domain.FeatureFlagConfig{
		FeatureID:         featureID,
		Enabled:           true,
		Mode:              spec.TargetMode,
		Strategy:          spec.Strategy,
		RolloutPercentage: spec.RolloutPercentage,
		AllowedRoles:      c.cfg.AllowedRoles,
		BetaUserIDs:       c.cfg.BetaUserIDs,
		InternalDomains:   c.cfg.InternalDomains,
		ShowInUI:          true,
	}
	if c.killed[featureID] {
		flag.Enabled = false
		flag.Mode = domain.ModeMock
		flag.Strategy = domain.StrategyDisabled
		flag.ShowInUI = false
	}
	return flag
}

// State returns a deep snapshot of the controller's world.
func (c *Controller) State() domain.TransitionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	hist := make([]domain.RollbackEvent, len(c.history))
	copy(hist, c.history)
	return domain.TransitionState{
		Phase:           c.phase,
		Metrics:         c.metrics,
		RollbackHistory: hist,
		LastPhaseChange: c.lastPhaseChange,
	}
}
