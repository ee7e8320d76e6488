package resilience

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter is a sliding-window request limiter. It throttles on the
// client side before a request is ever issued; the server keeps its own
// authoritative limits.
type RateLimiter struct {
	mu     sync.Mutex
	clock  clock.Clock
	limit  int
	window time.Duration
	stamps []time.Time
}

// NewRateLimiter allows limit requests per window. A nil clk uses real time.
func NewRateLimiter(limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		clock:  clk,
		limit:  limit,
		window: window,
	}
}

// Allow records a request if the window has room. When the quota is
// exhausted it returns ok=false and the wait until the oldest stamp leaves
// the window.
func (rl *RateLimiter) Allow() (ok bool, wait time.Duration, used int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.evict(now)

	if len(rl.stamps) >= rl.limit {
		oldest := rl.stamps[0]
		wait = rl.window - now.Sub(oldest)
		if wait < 0 {
			wait = 0
		}
		return false, wait, len(rl.stamps)
	}

	rl.stamps = append(rl.stamps, now)
	return true, 0, len(rl.stamps)
}

// Used reports the current window occupancy without recording a request.
func (rl *RateLimiter) Used() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.evict(rl.clock.Now())
	return len(rl.stamps)
}

// Limit returns the configured window quota.
func (rl *RateLimiter) Limit() int { return rl.limit }

// WaitSeconds converts a wait duration to whole seconds, rounded up, for
// the RATE_LIMITED error's retry_after field.
func WaitSeconds(wait time.Duration) int {
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

func (rl *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(rl.stamps) && !rl.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.stamps = rl.stamps[i:]
	}
}
