// Package perf records per-request latency, success and token-throughput
// samples and computes rolling-window percentiles per feature.
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/classpilot/aihub-go/internal/infra/observability"
)

// Thresholds are the feature-specific latency expectations, in ms.
type Thresholds struct {
	FastMs       float64
	AcceptableMs float64
}

// DefaultThresholds applies when a feature has no explicit entry.
var DefaultThresholds = Thresholds{FastMs: 1500, AcceptableMs: 4000}

// Classification buckets a request against its feature's thresholds.
const (
	ClassFast       = "fast"
	ClassAcceptable = "acceptable"
	ClassSlow       = "slow"
)

type sample struct {
	latencyMs float64
	success   bool
	tokensPS  float64
}

type featureWindow struct {
	samples []sample
	total   int64
	failed  int64
	// avgLatencyMs uses the source system's 2-point average (old+new)/2
	// rather than the rollout controller's 0.1 EWMA. The mismatch is
	// inherited behavior; do not unify without a product decision.
	avgLatencyMs float64
}

// Tracker keeps a bounded sample window per feature. Safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	windowSize int
	thresholds map[string]Thresholds
	features   map[string]*featureWindow
	metrics    *observability.Metrics
}

// NewTracker creates a tracker holding up to windowSize samples per feature.
func NewTracker(windowSize int, thresholds map[string]Thresholds, metrics *observability.Metrics) *Tracker {
	if windowSize <= 0 {
		windowSize = 200
	}
	if thresholds == nil {
		thresholds = map[string]Thresholds{}
	}
	return &Tracker{
		windowSize: windowSize,
		thresholds: thresholds,
		features:   map[string]*featureWindow{},
		metrics:    metrics,
	}
}

// Record ingests one completed request. backend is "real" or "mock" for the
// exported histogram; tokens may be zero for non-streaming calls.
func (t *Tracker) Record(feature, backend string, latency time.Duration, success bool, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fw, ok := t.features[feature]
	if !ok {
		fw = &featureWindow{}
		t.features[feature] = fw
	}

	ms := float64(latency.Milliseconds())
	tps := 0.0
	if tokens > 0 && latency > 0 {
		tps = float64(tokens) / latency.Seconds()
	}

	fw.total++
	if !success {
		fw.failed++
	}
	if fw.avgLatencyMs == 0 {
		fw.avgLatencyMs = ms
	} else {
		fw.avgLatencyMs = (fw.avgLatencyMs + ms) / 2
	}

	fw.samples = append(fw.samples, sample{latencyMs: ms, success: success, tokensPS: tps})
	if len(fw.samples) > t.windowSize {
		fw.samples = fw.samples[len(fw.samples)-t.windowSize:]
	}

	if t.metrics != nil {
		t.metrics.RecordRequestDuration(feature, backend, latency)
	}
}

// Classify buckets a latency against the feature's thresholds.
func (t *Tracker) Classify(feature string, latency time.Duration) string {
	th, ok := t.thresholds[feature]
	if !ok {
		th = DefaultThresholds
	}
	ms := float64(latency.Milliseconds())
	switch {
	case ms <= th.FastMs:
		return ClassFast
	case ms <= th.AcceptableMs:
		return ClassAcceptable
	default:
		return ClassSlow
	}
}

// FeatureStats is the rolling view for one feature.
type FeatureStats struct {
	Feature         string  `json:"feature"`
	TotalRequests   int64   `json:"total_requests"`
	SuccessRate     float64 `json:"success_rate"` // percent
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	P50LatencyMs    float64 `json:"p50_latency_ms"`
	P95LatencyMs    float64 `json:"p95_latency_ms"`
	P99LatencyMs    float64 `json:"p99_latency_ms"`
	AvgTokensPerSec float64 `json:"avg_tokens_per_sec"`
	WindowSize      int     `json:"window_size"`
}

// Stats computes the rolling stats for one feature. Percentiles are exact
// over the current window, unlike the rollout controller's P95 proxy.
func (t *Tracker) Stats(feature string) FeatureStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked(feature)
}

// Snapshot returns stats for every tracked feature.
func (t *Tracker) Snapshot() []FeatureStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.features))
	for name := range t.features {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]FeatureStats, 0, len(names))
	for _, name := range names {
		out = append(out, t.statsLocked(name))
	}
	return out
}

func (t *Tracker) statsLocked(feature string) FeatureStats {
	fs := FeatureStats{Feature: feature}
	fw, ok := t.features[feature]
	if !ok || fw.total == 0 {
		return fs
	}

	fs.TotalRequests = fw.total
	fs.SuccessRate = float64(fw.total-fw.failed) / float64(fw.total) * 100
	fs.AvgLatencyMs = fw.avgLatencyMs
	fs.WindowSize = len(fw.samples)

	if len(fw.samples) > 0 {
		lat := make([]float64, 0, len(fw.samples))
		var tpsSum float64
		var tpsN int
		for _, s := range fw.samples {
			lat = append(lat, s.latencyMs)
			if s.tokensPS > 0 {
				tpsSum += s.tokensPS
				tpsN++
			}
		}
		sort.Float64s(lat)
		fs.P50LatencyMs = percentile(lat, 50)
		fs.P95LatencyMs = percentile(lat, 95)
		fs.P99LatencyMs = percentile(lat, 99)
		if tpsN > 0 {
			fs.AvgTokensPerSec = tpsSum / float64(tpsN)
		}
	}
	return fs
}

// percentile picks the nearest-rank value from sorted data.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
