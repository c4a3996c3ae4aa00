package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/dkoval/jobsift/ratelimit"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestRefillOverTime(t *testing.T) {
	clock := newFakeClock()
	b := ratelimit.NewBucket(ratelimit.BucketConfig{MaxTokens: 10, RefillRate: 2})
	b.SetClock(clock.now)

	if !b.TryConsume(10) {
		t.Fatal("full bucket should grant 10 tokens")
	}
	if got := b.Tokens(); got != 0 {
		t.Fatalf("drained bucket has %g tokens, want 0", got)
	}

	clock.advance(3 * time.Second)
	if got := b.Tokens(); got != 6 {
		t.Errorf("after 3s at 2 tokens/s, tokens = %g, want 6", got)
	}
}

func TestTokensNeverExceedMax(t *testing.T) {
	clock := newFakeClock()
	b := ratelimit.NewBucket(ratelimit.BucketConfig{MaxTokens: 10, RefillRate: 2})
	b.SetClock(clock.now)

	clock.advance(time.Hour)
	if got := b.Tokens(); got != 10 {
		t.Errorf("tokens = %g, want clamped to 10", got)
	}
}

func TestTokensNeverGoNegative(t *testing.T) {
	clock := newFakeClock()
	b := ratelimit.NewBucket(ratelimit.BucketConfig{MaxTokens: 5, RefillRate: 1})
	b.SetClock(clock.now)

	if !b.TryConsume(5) {
		t.Fatal("expected initial grant")
	}
	if b.TryConsume(1) {
		t.Error("empty bucket granted a token")
	}
	if got := b.Tokens(); got < 0 {
		t.Errorf("tokens went negative: %g", got)
	}
}

func TestExponentialBackoffGrowth(t *testing.T) {
	b := ratelimit.NewBucket(ratelimit.BucketConfig{
		InitialBackoff: 1 * time.Second,
		Multiplier:     2,
		MaxBackoff:     300 * time.Second,
		Strategy:       ratelimit.StrategyExponential,
	})

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		b.RecordFailure()
		if got := b.BackoffWait(); got != w {
			t.Errorf("after %d failures: backoff = %v, want %v", i+1, got, w)
		}
	}

	b.RecordSuccess()
	if got := b.BackoffWait(); got != 0 {
		t.Errorf("after success: backoff = %v, want 0", got)
	}
	if got := b.ConsecutiveFailures(); got != 0 {
		t.Errorf("after success: consecutive failures = %d, want 0", got)
	}
}

func TestBackoffStrategies(t *testing.T) {
	cases := []struct {
		strategy ratelimit.Strategy
		failures int
		want     time.Duration
	}{
		{ratelimit.StrategyLinear, 3, 3 * time.Second},
		{ratelimit.StrategyExponential, 4, 8 * time.Second},
		{ratelimit.StrategyFibonacci, 6, 8 * time.Second}, // fib(6) = 8
	}
	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			b := ratelimit.NewBucket(ratelimit.BucketConfig{
				InitialBackoff: 1 * time.Second,
				Multiplier:     2,
				MaxBackoff:     300 * time.Second,
				Strategy:       tc.strategy,
			})
			for i := 0; i < tc.failures; i++ {
				b.RecordFailure()
			}
			if got := b.BackoffWait(); got != tc.want {
				t.Errorf("backoff = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBackoffClampedToMax(t *testing.T) {
	b := ratelimit.NewBucket(ratelimit.BucketConfig{
		InitialBackoff: 1 * time.Second,
		Multiplier:     2,
		MaxBackoff:     10 * time.Second,
		Strategy:       ratelimit.StrategyExponential,
	})
	for i := 0; i < 30; i++ {
		b.RecordFailure()
	}
	if got := b.BackoffWait(); got != 10*time.Second {
		t.Errorf("backoff = %v, want clamp at 10s", got)
	}
}

func TestRefillWait(t *testing.T) {
	clock := newFakeClock()
	b := ratelimit.NewBucket(ratelimit.BucketConfig{MaxTokens: 4, RefillRate: 2})
	b.SetClock(clock.now)

	if got := b.RefillWait(1); got != 0 {
		t.Errorf("full bucket wait = %v, want 0", got)
	}
	b.TryConsume(4)
	if got := b.RefillWait(1); got != 500*time.Millisecond {
		t.Errorf("empty bucket wait for 1 token at 2/s = %v, want 500ms", got)
	}
}

func TestLimiterAcquire(t *testing.T) {
	l := ratelimit.NewLimiter(
		ratelimit.BucketConfig{MaxTokens: 50, RefillRate: 50},
		ratelimit.BucketConfig{MaxTokens: 100, RefillRate: 100},
	)
	ok, _, err := l.Acquire(context.Background(), "remoteok", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("acquisition against full buckets should succeed")
	}
	if got := l.SourceBucket("remoteok").ConsecutiveFailures(); got != 0 {
		t.Errorf("successful acquire left %d failures on source bucket", got)
	}
}

func TestLimiterAcquireHonoursCancellation(t *testing.T) {
	l := ratelimit.NewLimiter(
		ratelimit.BucketConfig{MaxTokens: 1, RefillRate: 0.001},
		ratelimit.BucketConfig{MaxTokens: 1, RefillRate: 0.001},
	)
	// Drain both buckets so the next acquire must wait a long time.
	ok, _, _ := l.Acquire(context.Background(), "slow", 1)
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	ok, _, err := l.Acquire(ctx, "slow", 1)
	if ok {
		t.Error("acquire should fail under cancellation")
	}
	if err == nil {
		t.Error("expected a context error")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled acquire blocked far past its deadline")
	}
}

func TestLimiterAcquireSpacingWhenEmpty(t *testing.T) {
	// With an empty bucket refilling at 10 tokens/s, two successful
	// sequential acquisitions cannot complete within one refill interval
	// (100ms) of each other.
	l := ratelimit.NewLimiter(
		ratelimit.BucketConfig{MaxTokens: 100, RefillRate: 100},
		ratelimit.BucketConfig{MaxTokens: 1, RefillRate: 10},
	)
	// Drain the source bucket.
	if ok, _, _ := l.Acquire(context.Background(), "s", 1); !ok {
		t.Fatal("initial acquire failed")
	}
	start := time.Now()
	if ok, _, err := l.Acquire(context.Background(), "s", 1); !ok || err != nil {
		t.Fatalf("second acquire: ok=%v err=%v", ok, err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("second acquire returned after %v, want >= ~100ms refill interval", elapsed)
	}
}

func TestLimiterRecordErrorGrowsBackoff(t *testing.T) {
	l := ratelimit.NewLimiter(ratelimit.BucketConfig{}, ratelimit.BucketConfig{})
	l.RecordError("flaky")
	l.RecordError("flaky")
	if got := l.Backoff("flaky"); got != 2*time.Second {
		t.Errorf("backoff after 2 errors = %v, want 2s (exponential, initial 1s)", got)
	}
	if got := l.GlobalBucket().ConsecutiveFailures(); got != 2 {
		t.Errorf("global failures = %d, want 2", got)
	}
	l.RecordSuccess("flaky")
	if got := l.Backoff("flaky"); got != 0 {
		t.Errorf("backoff after success = %v, want 0", got)
	}
}

func TestLimiterOverride(t *testing.T) {
	l := ratelimit.NewLimiter(ratelimit.BucketConfig{}, ratelimit.BucketConfig{})
	l.Override("picky", ratelimit.BucketConfig{RefillRate: 0.5, InitialBackoff: 5 * time.Second})
	b := l.SourceBucket("picky")
	b.RecordFailure()
	if got := b.BackoffWait(); got != 5*time.Second {
		t.Errorf("override initial backoff = %v, want 5s", got)
	}
}
