// Package ratelimit keeps outbound GitHub API traffic inside the shared request budget.
//
// A single Guard is constructed at startup and injected into every HTTP client that talks
// to the releases API. It remembers the last X-RateLimit-Remaining / X-RateLimit-Reset pair
// seen on any response and, when the budget runs low, delays new requests until the window
// resets. Transport wraps an http.RoundTripper with the guard plus reactive retries for
// 429/503 responses.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/changefeed/changefeed/internal/telemetry"
)

const (
	// DefaultLowWater is the remaining-budget threshold at or below which the guard waits.
	DefaultLowWater = 5
	// DefaultMaxWait caps how long the guard will block; longer waits proceed immediately.
	DefaultMaxWait = 15 * time.Minute
)

// Guard holds the last-known remote rate-limit state. It is safe for concurrent use.
type Guard struct {
	mu        sync.Mutex
	known     bool
	remaining int
	resetAt   time.Time

	lowWater int
	maxWait  time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGuard creates a guard with the given low-water threshold and wait ceiling. Zero values
// select DefaultLowWater and DefaultMaxWait.
func NewGuard(lowWater int, maxWait time.Duration) *Guard {
	if lowWater <= 0 {
		lowWater = DefaultLowWater
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Guard{
		lowWater: lowWater,
		maxWait:  maxWait,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// State returns the last observed budget. known is false until a response carrying
// rate-limit headers has been seen.
func (g *Guard) State() (remaining int, resetAt time.Time, known bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining, g.resetAt, g.known
}

// Set overwrites the budget state directly.
func (g *Guard) Set(remaining int, resetAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.known = true
	g.remaining = remaining
	g.resetAt = resetAt
	telemetry.GitHubRateRemaining.Set(float64(remaining))
}

// Observe records the X-RateLimit-Remaining and X-RateLimit-Reset (unix seconds) headers
// of a response. Responses without the headers leave the state unchanged.
func (g *Guard) Observe(h http.Header) {
	rem, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	var resetAt time.Time
	if secs, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		resetAt = time.Unix(secs, 0)
	}
	g.Set(rem, resetAt)
}

// Delay computes how long the next request should wait. It returns zero when the budget
// is unknown or above the low-water mark, when the reset time has passed, and when the
// wait would exceed the ceiling (exceeded is then true).
func (g *Guard) Delay() (wait time.Duration, exceeded bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delayLocked()
}

func (g *Guard) delayLocked() (time.Duration, bool) {
	if !g.known || g.remaining > g.lowWater {
		return 0, false
	}
	wait := g.resetAt.Sub(g.now())
	if wait <= 0 {
		return 0, false
	}
	if wait > g.maxWait {
		return 0, true
	}
	return wait, false
}

// admit checks the budget and, when the request may go now, counts it against the budget
// in the same critical section.
func (g *Guard) admit() (wait time.Duration, exceeded bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	wait, exceeded = g.delayLocked()
	if wait == 0 {
		g.reserveLocked()
	}
	return wait, exceeded
}

// reserveLocked takes one request off the known budget. The next response carrying budget
// headers overwrites the estimate.
func (g *Guard) reserveLocked() {
	if !g.known || g.remaining <= 0 {
		return
	}
	g.remaining--
	telemetry.GitHubRateRemaining.Set(float64(g.remaining))
}

// Wait blocks until the next request may be sent or ctx is done. An admitted request is
// counted against the budget, so concurrent callers cannot all pass on the same reading.
func (g *Guard) Wait(ctx context.Context) error {
	wait, exceeded := g.admit()
	if exceeded {
		remaining, resetAt, _ := g.State()
		slog.Warn("rate limit reset is beyond the wait ceiling, proceeding without waiting",
			"remaining", remaining, "reset_at", resetAt, "ceiling", g.maxWait)
		telemetry.RateGuardWaitsTotal.WithLabelValues("ceiling").Inc()
		return nil
	}
	if wait == 0 {
		return nil
	}
	slog.Info("rate limit budget low, waiting for reset", "wait", wait.Round(time.Millisecond))
	telemetry.RateGuardWaitsTotal.WithLabelValues("waited").Inc()
	if err := g.sleep(ctx, wait); err != nil {
		return err
	}

	g.mu.Lock()
	g.reserveLocked()
	g.mu.Unlock()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
