package config_test

import (
	"testing"
	"time"

	"github.com/classpilot/aihub-go/internal/config"
)

func TestStreamTimeoutDefaultsAboveHTTPTimeout(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "")
	t.Setenv("STREAM_TIMEOUT", "")

	cfg := config.Load()
	if cfg.StreamTimeout != 5*time.Minute {
		t.Errorf("expected 5m stream timeout, got %s", cfg.StreamTimeout)
	}
	if cfg.StreamTimeout <= cfg.HTTPTimeout {
		t.Errorf("stream timeout (%s) must exceed the request timeout (%s), or SSE responses die mid-stream",
			cfg.StreamTimeout, cfg.HTTPTimeout)
	}
}

func TestStreamTimeoutFromEnv(t *testing.T) {
	t.Setenv("STREAM_TIMEOUT", "90s")

	cfg := config.Load()
	if cfg.StreamTimeout != 90*time.Second {
		t.Errorf("expected 90s, got %s", cfg.StreamTimeout)
	}
}
