// Package ratelimit provides token-bucket pacing with failure-keyed backoff
// for the fetch pipeline.
//
// Every source owns one bucket and the process owns one global bucket; an
// acquisition consults both.  Buckets are continuously refilled at their
// configured rate and additionally impose a backoff wait that grows with
// consecutive failures, so a source that keeps erroring slows itself down
// without affecting healthy sources (beyond the shared global bucket).
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Strategy selects how the backoff grows with consecutive failures.
type Strategy string

// Backoff growth strategies.  Given consecutive failures k and initial
// backoff i, the uncapped backoff is:
//
//	linear:       i · k
//	exponential:  i · multiplier^(k−1)
//	fibonacci:    i · fib(k)
//
// All strategies return zero at k == 0 and clamp to the configured maximum.
const (
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFibonacci   Strategy = "fibonacci"
)

// BucketConfig holds the tunable parameters of one token bucket.
type BucketConfig struct {
	// MaxTokens is the bucket capacity.
	MaxTokens float64

	// RefillRate is the refill speed in tokens per second.
	RefillRate float64

	// InitialBackoff is the backoff after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff clamps the computed backoff.
	MaxBackoff time.Duration

	// Multiplier is the exponential growth factor (ignored by the other
	// strategies).  Defaults to 2.
	Multiplier float64

	// Strategy selects the growth curve.  Defaults to exponential.
	Strategy Strategy
}

// SourceDefaults returns the per-source bucket tuning.
func SourceDefaults() BucketConfig {
	return BucketConfig{
		MaxTokens:      100,
		RefillRate:     10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     300 * time.Second,
		Multiplier:     2,
		Strategy:       StrategyExponential,
	}
}

// GlobalDefaults returns the process-wide bucket tuning.  Deliberately
// tighter than any single source so the aggregate egress stays polite.
func GlobalDefaults() BucketConfig {
	return BucketConfig{
		MaxTokens:      50,
		RefillRate:     5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     600 * time.Second,
		Multiplier:     2,
		Strategy:       StrategyExponential,
	}
}

// Bucket is one token bucket with failure-keyed backoff state.
//
// Thread-safety: a mutex guards the mutable fields (tokens, lastRefill,
// failure counters) and is held only for the duration of the refill+consume
// computation – never across any blocking operation.
type Bucket struct {
	cfg BucketConfig

	mu                  sync.Mutex
	tokens              float64
	lastRefill          time.Time
	consecutiveFailures int
	lastFailureTime     time.Time

	// now is the clock, injectable for tests.
	now func() time.Time
}

// NewBucket creates a full bucket with the given configuration.  Zero or
// negative capacity/rate fields are replaced by the source defaults so a
// partially-specified override cannot produce a bucket that never refills.
func NewBucket(cfg BucketConfig) *Bucket {
	def := SourceDefaults()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = def.RefillRate
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyExponential
	}
	b := &Bucket{cfg: cfg, now: time.Now}
	b.tokens = cfg.MaxTokens
	b.lastRefill = b.now()
	return b
}

// SetClock replaces the bucket's time source.  Tests only.
func (b *Bucket) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.lastRefill = now()
	b.mu.Unlock()
}

// refillLocked tops the bucket up according to the elapsed time.  Callers
// must hold b.mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.cfg.MaxTokens, b.tokens+elapsed*b.cfg.RefillRate)
	b.lastRefill = now
}

// TryConsume atomically removes n tokens if available, returning whether it
// succeeded.  Tokens never go below zero: an unsuccessful attempt leaves the
// bucket untouched.
func (b *Bucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Tokens returns the current token count after refill.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// RefillWait returns how long the caller must wait before n tokens will be
// available, assuming no competing consumers.  Zero when the tokens are
// already there.
func (b *Bucket) RefillWait(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= n {
		return 0
	}
	deficit := n - b.tokens
	return time.Duration(deficit / b.cfg.RefillRate * float64(time.Second))
}

// RecordFailure increments the consecutive-failure counter and stamps the
// failure time, growing subsequent BackoffWait results.
func (b *Bucket) RecordFailure() {
	b.mu.Lock()
	b.consecutiveFailures++
	b.lastFailureTime = b.now()
	b.mu.Unlock()
}

// RecordSuccess clears the failure streak, zeroing the backoff.
func (b *Bucket) RecordSuccess() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.mu.Unlock()
}

// ConsecutiveFailures returns the current failure streak length.
func (b *Bucket) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// BackoffWait returns the additional wait imposed by the current failure
// streak, per the configured strategy, clamped to MaxBackoff.  Zero when the
// streak is empty.
func (b *Bucket) BackoffWait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backoffLocked()
}

func (b *Bucket) backoffLocked() time.Duration {
	k := b.consecutiveFailures
	if k == 0 {
		return 0
	}
	initial := float64(b.cfg.InitialBackoff)
	var backoff float64
	switch b.cfg.Strategy {
	case StrategyLinear:
		backoff = initial * float64(k)
	case StrategyFibonacci:
		backoff = initial * float64(fib(k))
	default: // exponential
		backoff = initial * math.Pow(b.cfg.Multiplier, float64(k-1))
	}
	if max := float64(b.cfg.MaxBackoff); backoff > max {
		backoff = max
	}
	return time.Duration(backoff)
}

// fib returns the k-th Fibonacci number with fib(1) = fib(2) = 1, iterative
// to stay O(k) with no allocation.
func fib(k int) int {
	if k <= 2 {
		return 1
	}
	a, b := 1, 1
	for i := 3; i <= k; i++ {
		a, b = b, a+b
	}
	return b
}
