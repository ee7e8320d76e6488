package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded once from environment variables with sensible defaults
// and the struct is treated as immutable afterwards; call Load again for an
// explicit reload rather than mutating fields.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// AI backend
	AgentAPIURL string
	AIEnabled   bool
	DefaultMode string // disabled | mock | real | hybrid

	// HTTP client. StreamTimeout bounds a whole SSE exchange and must be
	// much larger than HTTPTimeout: streams outlive ordinary requests.
	HTTPTimeout   time.Duration
	StreamTimeout time.Duration

	// Retry / backoff
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMultiplier float64
	RetryMaxDelay   time.Duration

	// Client-side rate limiting (sliding window)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Bulkhead
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Streaming
	StreamBufferSize   int
	StreamFlushEvery   time.Duration
	StreamStallTimeout time.Duration
	StreamResetDelay   time.Duration

	// Rollout
	InitialPhase       string
	RolloutPercentage  int
	AutoRollback       bool
	ErrorRateThreshold float64 // percent
	LatencyThresholdMs float64
	MinSuccessRate     float64 // percent
	MinSampleSize      int64

	// Access
	SuperAdminRole  string
	InternalDomains []string
	BetaUserIDs     []string

	// Auth
	JWTSecret string

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AgentAPIURL: getEnv("AGENT_API_URL", "http://localhost:8090"),
		AIEnabled:   getEnvBool("AI_ENABLED", true),
		DefaultMode: getEnv("AI_DEFAULT_MODE", "mock"),

		HTTPTimeout:   getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		StreamTimeout: getEnvDuration("STREAM_TIMEOUT", 5*time.Minute),

		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 1*time.Second),
		RetryMultiplier: getEnvFloat("RETRY_MULTIPLIER", 2.0),
		RetryMaxDelay:   getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		StreamBufferSize:   getEnvInt("STREAM_BUFFER_SIZE", 24),
		StreamFlushEvery:   getEnvDuration("STREAM_FLUSH_EVERY", 150*time.Millisecond),
		StreamStallTimeout: getEnvDuration("STREAM_STALL_TIMEOUT", 5*time.Second),
		StreamResetDelay:   getEnvDuration("STREAM_RESET_DELAY", 2*time.Second),

		InitialPhase:       getEnv("ROLLOUT_PHASE", "preparation"),
		RolloutPercentage:  getEnvInt("ROLLOUT_PERCENTAGE", 0),
		AutoRollback:       getEnvBool("AUTO_ROLLBACK", true),
		ErrorRateThreshold: getEnvFloat("ERROR_RATE_THRESHOLD", 10.0),
		LatencyThresholdMs: getEnvFloat("LATENCY_THRESHOLD_MS", 5000),
		MinSuccessRate:     getEnvFloat("MIN_SUCCESS_RATE", 95.0),
		MinSampleSize:      int64(getEnvInt("MIN_SAMPLE_SIZE", 100)),

		SuperAdminRole:  getEnv("SUPER_ADMIN_ROLE", "super_admin"),
		InternalDomains: getEnvList("INTERNAL_DOMAINS", "classpilot.com"),
		BetaUserIDs:     getEnvList("BETA_USER_IDS", ""),

		JWTSecret: getEnv("JWT_SECRET", "aihub-default-dev-secret-change-me"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
