package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeClock pins the guard to a fixed instant and records requested sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func newTestGuard(clock *fakeClock) *Guard {
	g := NewGuard(0, 0)
	g.now = clock.Now
	g.sleep = clock.Sleep
	return g
}

// ---------------------------------------------------------------------------
// Wait / Delay
// ---------------------------------------------------------------------------

func TestGuard_UnknownStateProceeds(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newTestGuard(clock)

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("expected no sleep, got %v", clock.sleeps)
	}
	if _, _, known := g.State(); known {
		t.Error("an unknown budget must stay unknown after Wait()")
	}
}

func TestGuard_AboveLowWaterProceeds(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newTestGuard(clock)
	g.Set(6, clock.now.Add(time.Hour))

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("expected no sleep, got %v", clock.sleeps)
	}
}

func TestGuard_LowBudgetWaitsUntilReset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newTestGuard(clock)
	g.Set(3, clock.now.Add(2*time.Second))

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 2*time.Second {
		t.Errorf("sleeps = %v, want [2s]", clock.sleeps)
	}
}

func TestGuard_AtLowWaterWaits(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newTestGuard(clock)
	g.Set(DefaultLowWater, clock.now.Add(10*time.Second))

	wait, exceeded := g.Delay()
	if exceeded {
		t.Error("exceeded = true, want false")
	}
	if wait != 10*time.Second {
		t.Errorf("wait = %v, want 10s", wait)
	}
}

func TestGuard_ResetPassedProceeds(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newTestGuard(clock)
	g.Set(0, clock.now.Add(-time.Second))

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("expected no sleep, got %v", clock.sleeps)
	}
}

func TestGuard_WaitBeyondCeilingProceeds(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newTestGuard(clock)
	g.Set(0, clock.now.Add(DefaultMaxWait+time.Minute))

	wait, exceeded := g.Delay()
	if !exceeded || wait != 0 {
		t.Errorf("Delay() = (%v, %v), want (0, true)", wait, exceeded)
	}

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("expected no sleep, got %v", clock.sleeps)
	}
}

func TestGuard_WaitHonoursCancellation(t *testing.T) {
	g := NewGuard(0, 0)
	g.Set(0, time.Now().Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

// ---------------------------------------------------------------------------
// Budget reservation
// ---------------------------------------------------------------------------

func TestGuard_AdmittedRequestsReserveBudget(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newTestGuard(clock)
	g.Set(DefaultLowWater+1, clock.now.Add(2*time.Second))

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if remaining, _, _ := g.State(); remaining != DefaultLowWater {
		t.Fatalf("remaining after first request = %d, want %d", remaining, DefaultLowWater)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("first request should not wait, slept %v", clock.sleeps)
	}

	// The reservation brought the budget down to the low-water mark.
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 2*time.Second {
		t.Errorf("second request sleeps = %v, want [2s]", clock.sleeps)
	}
}

func TestGuard_ConcurrentCallersCannotOverdraw(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newTestGuard(clock)
	var (
		mu     sync.Mutex
		waited int
	)
	// Sleeping does not move the clock, so the reset stays ahead of every caller.
	g.sleep = func(context.Context, time.Duration) error {
		mu.Lock()
		waited++
		mu.Unlock()
		return nil
	}
	// Three requests fit above the low-water mark.
	g.Set(DefaultLowWater+3, clock.now.Add(10*time.Minute))

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Wait(context.Background())
		}()
	}
	wg.Wait()

	if waited != callers-3 {
		t.Errorf("%d callers waited, want %d", waited, callers-3)
	}
}

func TestGuard_ReserveStopsAtZero(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newTestGuard(clock)
	g.Set(0, clock.now.Add(-time.Second))

	for i := 0; i < 3; i++ {
		if err := g.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if remaining, _, _ := g.State(); remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

// ---------------------------------------------------------------------------
// Observe
// ---------------------------------------------------------------------------

func TestGuard_ObserveHeaders(t *testing.T) {
	g := NewGuard(0, 0)
	reset := time.Unix(1_700_000_600, 0)

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "17")
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	g.Observe(h)

	remaining, resetAt, known := g.State()
	if !known || remaining != 17 {
		t.Errorf("State() = (%d, known=%v), want (17, known=true)", remaining, known)
	}
	if !resetAt.Equal(reset) {
		t.Errorf("resetAt = %v, want %v", resetAt, reset)
	}
}

func TestGuard_ObserveWithoutHeadersKeepsState(t *testing.T) {
	g := NewGuard(0, 0)
	g.Set(9, time.Unix(1_700_000_000, 0))

	g.Observe(http.Header{})

	remaining, _, known := g.State()
	if !known || remaining != 9 {
		t.Errorf("State() = (%d, known=%v), want (9, known=true)", remaining, known)
	}
}

func TestGuard_ConcurrentObserve(t *testing.T) {
	g := NewGuard(0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h := http.Header{}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(n))
			h.Set("X-RateLimit-Reset", "1700000000")
			g.Observe(h)
			g.Delay()
		}(i)
	}
	wg.Wait()

	remaining, _, known := g.State()
	if !known {
		t.Fatal("expected known state")
	}
	if remaining < 0 || remaining >= 50 {
		t.Errorf("remaining = %d, want 0..49", remaining)
	}
}
