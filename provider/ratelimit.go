package provider

import (
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/pilot/internal/clock"
)

// rateLimiter enforces a sliding-window call budget (e.g. 20 calls per
// 60s) across all tasks sharing one Client. Callers Wait before a network
// attempt and Record after a successful one.
type rateLimiter struct {
	mu     sync.Mutex
	clk    clock.Clock
	window time.Duration
	max    int
	calls  []time.Time
}

func newRateLimiter(max int, window time.Duration, clk clock.Clock) *rateLimiter {
	return &rateLimiter{clk: clk, window: window, max: max}
}

// Wait blocks until the window has room for one more call, or ctx ends.
func (r *rateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.max <= 0 {
		return nil
	}
	for {
		r.mu.Lock()
		now := r.clk.Now()
		r.prune(now)
		if len(r.calls) < r.max {
			r.mu.Unlock()
			return nil
		}
		oldest := r.calls[0]
		r.mu.Unlock()

		wait := r.window - now.Sub(oldest) + 100*time.Millisecond
		select {
		case <-r.clk.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Record notes a completed call.
func (r *rateLimiter) Record() {
	if r == nil || r.max <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clk.Now()
	r.prune(now)
	r.calls = append(r.calls, now)
}

// prune must be called with r.mu held.
func (r *rateLimiter) prune(now time.Time) {
	keep := r.calls[:0]
	for _, ts := range r.calls {
		if now.Sub(ts) < r.window {
			keep = append(keep, ts)
		}
	}
	r.calls = keep
}
