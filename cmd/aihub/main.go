package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classpilot/aihub-go/internal/access"
	"github.com/classpilot/aihub-go/internal/config"
	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"
	"github.com/classpilot/aihub-go/internal/handler"
	"github.com/classpilot/aihub-go/internal/infra/cache"
	"github.com/classpilot/aihub-go/internal/infra/observability"
	"github.com/classpilot/aihub-go/internal/infra/resilience"
	"github.com/classpilot/aihub-go/internal/infra/transport"
	"github.com/classpilot/aihub-go/internal/perf"
	"github.com/classpilot/aihub-go/internal/requeststore"
	"github.com/classpilot/aihub-go/internal/rollout"
	"github.com/classpilot/aihub-go/internal/service"
	"github.com/classpilot/aihub-go/internal/streaming"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("agent_api_url", cfg.AgentAPIURL),
		zap.Bool("ai_enabled", cfg.AIEnabled),
		zap.String("rollout_phase", cfg.InitialPhase),
		zap.Bool("auto_rollback", cfg.AutoRollback),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("stream_timeout", cfg.StreamTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "aihub")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Event bus ---
	bus := events.NewBus()
	events.AttachLoggerSink(bus, logger)
	events.AttachMetricsSink(bus, metrics)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.RetryBaseDelay,
		Multiplier:     cfg.RetryMultiplier,
		MaxDelay:       cfg.RetryMaxDelay,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("agent-api")
	limiter := resilience.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, nil)

	// --- Transport ---
	// Timeout stays 0 on the http.Client so SSE bodies survive past the
	// per-attempt deadline; the attempt context is the time box.
	httpClient := &http.Client{}
	agentClient := transport.NewClient(
		httpClient,
		cfg.AgentAPIURL,
		cb,
		resilienceCfg,
		limiter,
		bus,
		metrics,
		logger,
		transport.WithDefaultTimeout(cfg.HTTPTimeout),
		transport.WithRequestInterceptor(transport.UserAgentInterceptor("aihub/1.0")),
	)

	// --- Stores & trackers ---
	store := requeststore.NewStore(cfg.MaxRetries, bus, logger)
	responseCache := cache.New[*domain.AgentAnswer](cfg.CacheTTL)
	tracker := perf.NewTracker(0, nil, metrics)

	// --- Rollout controller ---
	initialPhase, ok := rollout.ParsePhase(cfg.InitialPhase)
	if !ok {
		logger.Warn("unknown rollout phase, starting at first phase",
			zap.String("configured", cfg.InitialPhase),
		)
		initialPhase = rollout.FirstPhase()
	}
	controller := rollout.NewController(initialPhase, rollout.Config{
		AutoRollback:       cfg.AutoRollback,
		ErrorThreshold:     cfg.ErrorRateThreshold,
		LatencyThresholdMs: cfg.LatencyThresholdMs,
		MinSuccessRate:     cfg.MinSuccessRate,
		MinSampleSize:      cfg.MinSampleSize,
		BetaUserIDs:        cfg.BetaUserIDs,
		InternalDomains:    cfg.InternalDomains,
	}, bus, metrics, logger, nil)

	// --- Access resolver ---
	resolver := access.Resolver{
		GlobalEnabled:  cfg.AIEnabled,
		SuperAdminRole: cfg.SuperAdminRole,
	}

	// --- Backends ---
	realBackend := service.NewRealBackend(agentClient, cfg.StreamTimeout)
	mockBackend := service.NewMockBackend(nil)

	// --- Orchestrator ---
	streamCfg := streaming.Config{
		BufferSize:   cfg.StreamBufferSize,
		FlushEvery:   cfg.StreamFlushEvery,
		StallTimeout: cfg.StreamStallTimeout,
		ResetDelay:   cfg.StreamResetDelay,
	}
	orch := service.NewOrchestrator(
		store,
		responseCache,
		realBackend,
		mockBackend,
		tracker,
		controller,
		resolver,
		streamCfg,
		cfg.CacheTTL,
		metrics,
		bus,
		logger,
		nil,
	)

	// --- Router ---
	router := handler.NewRouter(orch, controller, tracker, metrics, cfg, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// WriteTimeout stays generous: /v1/chat/stream holds the response
		// open for the full duration of an SSE relay.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	orch.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
