// Package resilience provides fault-tolerance patterns:
// retry with exponential backoff, circuit breaker, bulkhead, and
// client-side rate limiting.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds resilience parameters.
type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	MaxConcurrency int
}

// BaseBackoff returns the pre-jitter delay for the given attempt (0-based):
// min(base * multiplier^attempt, maxDelay).
func BaseBackoff(cfg Config, attempt int) time.Duration {
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt)))
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return d
}

// RetryPolicy decides whether an error warrants another attempt and whether
// the server dictated the wait (Retry-After). A zero serverWait means use
// exponential backoff.
type RetryPolicy func(err error) (retry bool, serverWait time.Duration)

// RetryWithBackoff executes fn with exponential backoff + jitter, capped at
// cfg.MaxDelay. A server-provided wait from the policy overrides the
// computed backoff. It respects context cancellation: an aborted context is
// terminal and is never retried. onRetry, when non-nil, is called before
// each re-attempt for telemetry.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error, policy RetryPolicy, onRetry func(attempt int, err error)) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		retry, serverWait := true, time.Duration(0)
		if policy != nil {
			retry, serverWait = policy(lastErr)
		}
		if !retry {
			return lastErr
		}

		wait := serverWait
		if wait <= 0 {
			backoff := BaseBackoff(cfg, attempt)
			jitter := time.Duration(0)
			if backoff > 1 {
				jitter = time.Duration(rand.Int63n(int64(backoff / 2)))
			}
			wait = backoff + jitter
			if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
				wait = cfg.MaxDelay
			}
		}

		if onRetry != nil {
			onRetry(attempt+1, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

// Bulkhead limits concurrent access to a resource.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead with the given max concurrency.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is available or context is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (b *Bulkhead) Release() {
	<-b.sem
}
