package domain

import "time"

// Mode selects which backend serves a feature.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeMock     Mode = "mock"
	ModeReal     Mode = "real"
	ModeHybrid   Mode = "hybrid" // real with mock fallback on terminal failure
)

// Phase is a named stage of the progressive rollout.
type Phase string

const (
	PhasePreparation   Phase = "preparation"
	PhaseCanary        Phase = "canary"
	PhaseEarlyAdopters Phase = "early_adopters"
	PhaseGradual       Phase = "gradual_rollout"
	PhaseFullRollout   Phase = "full_rollout"
	PhaseStable        Phase = "stable"
)

// RolloutStrategy is the rule deciding which users reach a feature.
type RolloutStrategy string

const (
	StrategyFull       RolloutStrategy = "full"
	StrategyPercentage RolloutStrategy = "percentage"
	StrategyBetaUsers  RolloutStrategy = "beta_users"
	StrategyInternal   RolloutStrategy = "internal"
	StrategyRoleBased  RolloutStrategy = "role_based"
	StrategyDisabled   RolloutStrategy = "disabled"
)

// HealthStatus classifies aggregate backend health. It is derived from the
// other metric fields and configured thresholds, never set independently.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// TransitionMetrics is the resettable metrics window behind phase decisions.
// Invariant: ErrorRate + SuccessRate == 100 once TotalRequests > 0.
type TransitionMetrics struct {
	TotalRequests      int64        `json:"total_requests"`
	SuccessfulRequests int64        `json:"successful_requests"`
	FailedRequests     int64        `json:"failed_requests"`
	AverageLatencyMs   float64      `json:"average_latency_ms"` // EWMA, alpha 0.1
	P95LatencyMs       float64      `json:"p95_latency_ms"`     // running-max proxy, not a true percentile
	ErrorRate          float64      `json:"error_rate"`         // percent
	SuccessRate        float64      `json:"success_rate"`       // percent
	HealthStatus       HealthStatus `json:"health_status"`
}

// RollbackEvent is one entry in the append-only rollback audit log.
type RollbackEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Phase     Phase             `json:"phase"` // phase rolled back FROM
	Reason    string            `json:"reason"`
	Metrics   TransitionMetrics `json:"metrics"` // snapshot at rollback time
	Automatic bool              `json:"automatic"`
}

// TransitionState is a snapshot of the rollout controller's world.
type TransitionState struct {
	Phase           Phase             `json:"phase"`
	Metrics         TransitionMetrics `json:"metrics"`
	RollbackHistory []RollbackEvent   `json:"rollback_history"`
	LastPhaseChange time.Time         `json:"last_phase_change"`
}

// PhaseSpec describes one entry of the ordered phase table.
type PhaseSpec struct {
	Phase             Phase           `json:"phase"`
	TargetMode        Mode            `json:"target_mode"`
	Strategy          RolloutStrategy `json:"strategy"`
	RolloutPercentage int             `json:"rollout_percentage"`
	EntryCriteria     string          `json:"entry_criteria"`
	Next              Phase           `json:"next,omitempty"`
	Previous          Phase           `json:"previous,omitempty"`
}

// FeatureFlagConfig is the per-feature gate configuration. Read-mostly;
// runtime overrides go through the rollout controller's kill switches.
type FeatureFlagConfig struct {
	FeatureID         string          `json:"feature_id"`
	Enabled           bool            `json:"enabled"`
	Mode              Mode            `json:"mode"`
	AllowedRoles      []string        `json:"allowed_roles,omitempty"`
	Strategy          RolloutStrategy `json:"rollout_strategy"`
	RolloutPercentage int             `json:"rollout_percentage,omitempty"`
	BetaUserIDs       []string        `json:"beta_user_ids,omitempty"`
	InternalDomains   []string        `json:"internal_domains,omitempty"`
	ShowInUI          bool            `json:"show_in_ui"`
}

// User is the authenticated caller as provided by the upstream auth service.
type User struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Email string `json:"email"`
}

// AccessDecision is the resolver's answer for one (feature, user) pair.
// HideFromUI tells the client whether to hide the feature silently or show
// an explanatory state.
type AccessDecision struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	HideFromUI bool   `json:"hide_from_ui,omitempty"`
}
