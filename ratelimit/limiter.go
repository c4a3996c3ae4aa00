package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter maintains one bucket per source plus a single global bucket.
// Buckets are created lazily on first reference and live for the process
// lifetime.
//
// The only blocking point is the context-aware sleep inside Acquire; the
// limiter itself holds no lock while suspended, so concurrent acquisitions
// for different sources proceed independently.
type Limiter struct {
	global *Bucket

	mu        sync.Mutex
	sources   map[string]*Bucket
	overrides map[string]BucketConfig
	defaults  BucketConfig
}

// NewLimiter creates a Limiter with the given global bucket and per-source
// defaults.  Pass zero-value configs to use the package defaults.
func NewLimiter(global, sourceDefaults BucketConfig) *Limiter {
	if global.MaxTokens == 0 && global.RefillRate == 0 {
		global = GlobalDefaults()
	}
	if sourceDefaults.MaxTokens == 0 && sourceDefaults.RefillRate == 0 {
		sourceDefaults = SourceDefaults()
	}
	return &Limiter{
		global:    NewBucket(global),
		sources:   make(map[string]*Bucket),
		overrides: make(map[string]BucketConfig),
		defaults:  sourceDefaults,
	}
}

// Override registers a per-source bucket configuration, applied when that
// source's bucket is first created.  Call before the first Acquire for the
// source; later calls have no effect on the existing bucket.
func (l *Limiter) Override(source string, cfg BucketConfig) {
	l.mu.Lock()
	l.overrides[source] = cfg
	l.mu.Unlock()
}

// bucket returns the source's bucket, creating it lazily.
func (l *Limiter) bucket(source string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.sources[source]; ok {
		return b
	}
	cfg := l.defaults
	if ov, ok := l.overrides[source]; ok {
		if ov.RefillRate > 0 {
			cfg.RefillRate = ov.RefillRate
		}
		if ov.MaxTokens > 0 {
			cfg.MaxTokens = ov.MaxTokens
		}
		if ov.InitialBackoff > 0 {
			cfg.InitialBackoff = ov.InitialBackoff
		}
		if ov.MaxBackoff > 0 {
			cfg.MaxBackoff = ov.MaxBackoff
		}
		if ov.Strategy != "" {
			cfg.Strategy = ov.Strategy
		}
	}
	b := NewBucket(cfg)
	l.sources[source] = b
	return b
}

// Wait returns the duration Acquire would currently suspend for: the maximum
// of both buckets' refill waits and both buckets' backoff waits.
func (l *Limiter) Wait(source string, n float64) time.Duration {
	sb := l.bucket(source)
	wait := sb.RefillWait(n)
	if w := l.global.RefillWait(n); w > wait {
		wait = w
	}
	if w := sb.BackoffWait(); w > wait {
		wait = w
	}
	if w := l.global.BackoffWait(); w > wait {
		wait = w
	}
	return wait
}

// Acquire blocks until source may proceed, then consumes n tokens from both
// the source bucket and the global bucket.
//
// The returned values are (acquired, waited): acquired is false either when
// ctx was cancelled during the suspension or when a bucket went dry between
// the wait computation and the consume (a race with a concurrent acquirer);
// in the raced case a failure is recorded on both buckets.  waited reports
// whether the caller had to suspend at all, for rate-limit-hit metrics.
func (l *Limiter) Acquire(ctx context.Context, source string, n float64) (acquired, waited bool, err error) {
	sb := l.bucket(source)

	wait := l.Wait(source, n)
	if wait > 0 {
		waited = true
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, waited, ctx.Err()
		case <-timer.C:
		}
	}

	// Consume from the source bucket first; only touch the global bucket when
	// the source grant succeeded, returning the source tokens on a global
	// miss so the pair stays consistent.
	if !sb.TryConsume(n) {
		sb.RecordFailure()
		l.global.RecordFailure()
		return false, waited, nil
	}
	if !l.global.TryConsume(n) {
		sb.refund(n)
		sb.RecordFailure()
		l.global.RecordFailure()
		return false, waited, nil
	}
	sb.RecordSuccess()
	l.global.RecordSuccess()
	return true, waited, nil
}

// RecordError increments the failure streak on the source bucket and the
// global bucket.  The orchestrator calls this for every transient fetch
// failure so the backoff reflects the source's real health, not just
// token-consume races.
func (l *Limiter) RecordError(source string) {
	l.bucket(source).RecordFailure()
	l.global.RecordFailure()
}

// RecordSuccess clears the failure streak on both buckets.
func (l *Limiter) RecordSuccess(source string) {
	l.bucket(source).RecordSuccess()
	l.global.RecordSuccess()
}

// Backoff returns the source's current backoff wait, used by the
// orchestrator as the delay between fetch retries.
func (l *Limiter) Backoff(source string) time.Duration {
	return l.bucket(source).BackoffWait()
}

// SourceBucket exposes the bucket for source.  Tests only.
func (l *Limiter) SourceBucket(source string) *Bucket {
	return l.bucket(source)
}

// GlobalBucket exposes the global bucket.  Tests only.
func (l *Limiter) GlobalBucket() *Bucket {
	return l.global
}

// refund returns n tokens to the bucket, capped at capacity.  Used to undo
// the source-bucket half of an acquisition whose global half failed.
func (b *Bucket) refund(n float64) {
	b.mu.Lock()
	b.tokens += n
	if b.tokens > b.cfg.MaxTokens {
		b.tokens = b.cfg.MaxTokens
	}
	b.mu.Unlock()
}
