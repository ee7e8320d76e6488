package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	requestsTotal     *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	tokensUsed        *prometheus.CounterVec
	firstTokenLatency prometheus.Histogram
	streamChunks      prometheus.Counter
	streamStalls      prometheus.Counter
	rateLimitHits     prometheus.Counter
	rollbacksTotal    *prometheus.CounterVec
	phaseGauge        *prometheus.GaugeVec
	eventsTotal       *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aihub_request_duration_seconds",
				Help:    "Duration of AI requests by feature and backend.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"feature", "backend"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aihub_requests_total",
				Help: "Total AI requests processed.",
			},
			[]string{"status"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aihub_retries_total",
				Help: "Total transport-level retries by error code.",
			},
			[]string{"code"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aihub_cache_hits_total",
				Help: "Total response cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aihub_cache_misses_total",
				Help: "Total response cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aihub_tokens_total",
				Help: "Total AI tokens consumed.",
			},
			[]string{"type"},
		),
		firstTokenLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aihub_first_token_latency_seconds",
				Help:    "Time from stream start to first received chunk.",
				Buckets: []float64{.1, .25, .5, 1, 2, 5, 10},
			},
		),
		streamChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aihub_stream_chunks_total",
				Help: "Total streaming chunks received.",
			},
		),
		streamStalls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aihub_stream_stalls_total",
				Help: "Total stall detections on active streams.",
			},
		),
		rateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aihub_rate_limit_hits_total",
				Help: "Requests rejected by the client-side rate limiter.",
			},
		),
		rollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aihub_rollbacks_total",
				Help: "Rollout phase rollbacks.",
			},
			[]string{"automatic"},
		),
		phaseGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aihub_rollout_phase",
				Help: "Current rollout phase (1 for active, 0 otherwise).",
			},
			[]string{"phase"},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aihub_events_total",
				Help: "Internal bus events published, by topic.",
			},
			[]string{"topic"},
		),
	}
}

// RecordRequestDuration records the duration of one completed request.
func (m *Metrics) RecordRequestDuration(feature, backend string, d time.Duration) {
	m.requestDuration.WithLabelValues(feature, backend).Observe(d.Seconds())
}

// IncrRequest increments the request counter with a status label.
func (m *Metrics) IncrRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// IncrRetry counts one transport retry for the given error code.
func (m *Metrics) IncrRetry(code string) {
	m.retriesTotal.WithLabelValues(code).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records token usage by type ("prompt"/"completion"/"stream").
func (m *Metrics) RecordTokens(kind string, n int) {
	m.tokensUsed.WithLabelValues(kind).Add(float64(n))
}

// RecordFirstTokenLatency observes time-to-first-chunk for a stream.
func (m *Metrics) RecordFirstTokenLatency(d time.Duration) {
	m.firstTokenLatency.Observe(d.Seconds())
}

// IncrStreamChunk counts one received stream chunk.
func (m *Metrics) IncrStreamChunk() { m.streamChunks.Inc() }

// IncrStreamStall counts one stall detection.
func (m *Metrics) IncrStreamStall() { m.streamStalls.Inc() }

// IncrRateLimitHit counts one locally rejected request.
func (m *Metrics) IncrRateLimitHit() { m.rateLimitHits.Inc() }

// IncrEvent counts one bus event for the given topic.
func (m *Metrics) IncrEvent(topic string) { m.eventsTotal.WithLabelValues(topic).Inc() }

// IncrRollback counts a phase rollback.
func (m *Metrics) IncrRollback(automatic bool) {
	label := "false"
	if automatic {
		label = "true"
	}
	m.rollbacksTotal.WithLabelValues(label).Inc()
}

// SetPhase marks the active rollout phase on the gauge.
func (m *Metrics) SetPhase(active string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == active {
			v = 1.0
		}
		m.phaseGauge.WithLabelValues(p).Set(v)
	}
}

// Snapshot is a JSON-friendly view of the counters for the admin endpoint.
type Snapshot struct {
	TotalRequests float64 `json:"total_requests"`
	ErrorRate     float64 `json:"error_rate"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	TotalTokens   float64 `json:"total_tokens"`
	TotalRetries  float64 `json:"total_retries"`
	RateLimitHits float64 `json:"rate_limit_hits"`
}

// GetSnapshot reads current counter values. Prometheus counters expose
// cumulative values, so rates are computed over process lifetime.
func (m *Metrics) GetSnapshot() *Snapshot {
	success := getCounterValue(m.requestsTotal, "success")
	errored := getCounterValue(m.requestsTotal, "error")
	total := success + errored

	hits := getCounterValue(m.cacheHits, "response")
	misses := getCounterValue(m.cacheMisses, "response")

	s := &Snapshot{
		TotalRequests: total,
		TotalTokens: getCounterValue(m.tokensUsed, "prompt") +
			getCounterValue(m.tokensUsed, "completion") +
			getCounterValue(m.tokensUsed, "stream"),
		RateLimitHits: readCounter(m.rateLimitHits),
	}
	if total > 0 {
		s.ErrorRate = errored / total
	}
	if hits+misses > 0 {
		s.CacheHitRate = hits / (hits + misses)
	}

	// Sum retries across all error codes.
	codes := []string{"TIMEOUT", "NETWORK_ERROR", "HTTP_500", "HTTP_502", "HTTP_503", "HTTP_429"}
	for _, c := range codes {
		s.TotalRetries += getCounterValue(m.retriesTotal, c)
	}
	return s
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
