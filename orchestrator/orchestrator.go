// Package orchestrator drives one aggregation run: every configured source
// is fetched under the rate limiter with bounded cross-source parallelism,
// parsed batches flow through matching, deduplication and expiry, and the
// surviving jobs go to the sink in one write.
//
// This is the only place retry and abort decisions are made.  Fetchers and
// parsers report kind-classified failures and never retry on their own; the
// rate limiter's failure counters are the single source of truth for backoff
// magnitude.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkoval/jobsift/browser"
	"github.com/dkoval/jobsift/config"
	"github.com/dkoval/jobsift/dedup"
	"github.com/dkoval/jobsift/fetch"
	"github.com/dkoval/jobsift/jobs"
	"github.com/dkoval/jobsift/match"
	"github.com/dkoval/jobsift/metrics"
	"github.com/dkoval/jobsift/ratelimit"
	"github.com/dkoval/jobsift/worker"
)

// Per-site-class knobs.  Generic sites use the configured defaults; sites
// that have challenged us before are worth more retry patience, JS-heavy
// SPA sites less, because each of their attempts costs a full render.  SPA
// sites get the longest navigation budget instead, since slow hydration is
// their failure mode rather than anti-bot walls.
const (
	antiBotRetries = 5
	spaRetries     = 2

	antiBotNavTimeout = 60 * time.Second
	spaNavTimeout     = 90 * time.Second
)

// Fetcher is the transport-side contract the orchestrator drives.
type Fetcher interface {
	Fetch(ctx context.Context, feed *config.Feed) ([]jobs.Job, error)
}

// Sink receives the final job batch of a run.  Downstream persistence keys
// on Job.ID and treats equal IDs as upserts.
type Sink interface {
	Store(ctx context.Context, batch []jobs.Job) error
}

// SourceStatus is the per-source operational record served by the
// dashboard.
type SourceStatus struct {
	Name          string    `json:"name"`
	LastRun       time.Time `json:"last_run,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	Errors        int       `json:"errors"`
	Attempts      int       `json:"attempts"`
	Jobs          int       `json:"jobs"`
	Quarantined   bool      `json:"quarantined"`
}

// Options wires an Orchestrator.
type Options struct {
	Config   *config.Config
	Static   Fetcher
	Headless Fetcher
	Limiter  *ratelimit.Limiter
	Matcher  *match.Matcher
	Dedup    *dedup.Deduplicator
	Metrics  *metrics.Metrics
	Sink     Sink
	Log      zerolog.Logger
}

// Orchestrator coordinates fetching across sources.
type Orchestrator struct {
	cfg      *config.Config
	static   Fetcher
	headless Fetcher
	limiter  *ratelimit.Limiter
	matcher  *match.Matcher
	dedup    *dedup.Deduplicator
	metrics  *metrics.Metrics
	sink     Sink
	log      zerolog.Logger

	criteria *match.Criteria

	mu         sync.Mutex
	status     map[string]*SourceStatus
	challenged map[string]bool
}

// criteriaFromFilters maps the configured interest profile onto the match
// package's criteria type.
func criteriaFromFilters(f config.Filters) *match.Criteria {
	return &match.Criteria{
		Keywords:         f.Keywords,
		Locations:        f.Locations,
		Exclude:          f.Exclude,
		SalaryMin:        f.SalaryMin,
		SalaryMax:        f.SalaryMax,
		JobTypes:         f.JobTypes,
		ExperienceLevels: f.ExperienceLevels,
		IsRemote:         f.IsRemote,
		Sources:          f.Sources,
	}
}

// New builds an Orchestrator and registers per-feed rate-limit overrides.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:        opts.Config,
		static:     opts.Static,
		headless:   opts.Headless,
		limiter:    opts.Limiter,
		matcher:    opts.Matcher,
		dedup:      opts.Dedup,
		metrics:    opts.Metrics,
		sink:       opts.Sink,
		criteria:   criteriaFromFilters(opts.Config.Filters),
		log:        opts.Log.With().Str("component", "orchestrator").Logger(),
		status:     make(map[string]*SourceStatus),
		challenged: make(map[string]bool),
	}
	for i := range o.cfg.Feeds {
		feed := &o.cfg.Feeds[i]
		o.status[feed.Name] = &SourceStatus{Name: feed.Name}
		if feed.RateLimit != nil {
			cfg := ratelimit.SourceDefaults()
			if feed.RateLimit.RequestsPerMinute > 0 {
				cfg.RefillRate = float64(feed.RateLimit.RequestsPerMinute) / 60
			}
			if feed.RateLimit.RetryAfter > 0 {
				cfg.InitialBackoff = time.Duration(feed.RateLimit.RetryAfter) * time.Second
			}
			o.limiter.Override(feed.Name, cfg)
		}
	}
	return o
}

// RunOnce fetches every source with bounded parallelism, funnels the
// combined output through match, dedup and expiry, stores it, and returns
// the final batch.  A fatal failure (browser cannot start, broken wiring)
// aborts the run and is returned; ordinary per-source failures only cost
// that source its contribution.
func (o *Orchestrator) RunOnce(ctx context.Context) ([]jobs.Job, error) {
	start := time.Now()
	pool := worker.New(o.cfg.MaxConcurrentSources)
	pool.Start()

	var (
		mu       sync.Mutex
		combined []jobs.Job
		fatal    error
		wg       sync.WaitGroup
	)
	for i := range o.cfg.Feeds {
		feed := &o.cfg.Feeds[i]
		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			batch, err := o.runSource(ctx, feed)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && fetch.KindOf(err) == fetch.KindFatal && fatal == nil {
				fatal = err
			}
			combined = append(combined, batch...)
		})
		if err != nil {
			wg.Done()
		}
	}
	wg.Wait()
	pool.Stop()

	if fatal != nil {
		return nil, fmt.Errorf("orchestrator: run aborted: %w", fatal)
	}

	final := o.finishRun(ctx, combined)
	o.log.Info().
		Int("sources", len(o.cfg.Feeds)).
		Int("jobs", len(final)).
		Dur("took", time.Since(start)).
		Msg("run complete")
	return final, nil
}

// runSource executes the bounded retry loop for one source and returns its
// parsed, touched batch.
func (o *Orchestrator) runSource(ctx context.Context, feed *config.Feed) ([]jobs.Job, error) {
	budget := o.retryBudget(feed)
	log := o.log.With().Str("source", feed.Name).Logger()

	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		acquired, waited, err := o.limiter.Acquire(ctx, feed.Name, 1)
		if err != nil {
			o.recordError(feed.Name, err, fetch.KindTransient, false)
			return nil, err
		}
		if waited {
			o.metrics.RateLimitHit(feed.Name)
		}
		if !acquired {
			// Lost the post-wait token race to a concurrent source.  No fetch
			// may go out without a token; Acquire already recorded the failure
			// on both buckets, so this costs an attempt like any transient
			// failure and waits out the backoff.
			lastErr = &fetch.Error{Kind: fetch.KindTransient, Source: feed.Name,
				Err: fmt.Errorf("rate limiter denied token")}
			o.metrics.RateLimitHit(feed.Name)
			o.recordError(feed.Name, lastErr, fetch.KindTransient, false)
			backoff := o.limiter.Backoff(feed.Name)
			log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Msg("token denied under contention")
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, lastErr
			}
			continue
		}
		o.noteAttempt(feed.Name)

		fetchStart := time.Now()
		batch, err := o.dispatch(ctx, feed)
		o.metrics.ObserveFetch(string(feed.FetchMethod), time.Since(fetchStart))

		if err == nil {
			o.limiter.RecordSuccess(feed.Name)
			o.metrics.JobsFetched(feed.Name, len(batch))
			now := time.Now()
			for i := range batch {
				batch[i].Touch(now)
			}
			o.recordSuccess(feed.Name, len(batch))
			log.Info().Int("jobs", len(batch)).Int("attempt", attempt).Msg("source fetched")
			return batch, nil
		}

		lastErr = err
		kind := fetch.KindOf(err)
		o.metrics.FetchError(feed.Name, string(kind))
		if fetch.RateLimited(err) {
			o.metrics.RateLimitHit(feed.Name)
		}
		o.limiter.RecordError(feed.Name)
		o.recordError(feed.Name, err, kind, kind == fetch.KindChallenge)

		switch kind {
		case fetch.KindTransient:
			backoff := o.limiter.Backoff(feed.Name)
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("transient failure")
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, lastErr
			}
		case fetch.KindChallenge:
			o.noteChallenge(feed.URL)
			log.Warn().Err(err).Msg("source quarantined until next run")
			return nil, err
		case fetch.KindFatal:
			log.Error().Err(err).Msg("fatal failure")
			return nil, err
		default:
			log.Warn().Err(err).Msg("permanent failure, source skipped this run")
			return nil, err
		}
	}

	o.log.Warn().Str("source", feed.Name).Int("budget", budget).Msg("retry budget exhausted")
	return nil, lastErr
}

func (o *Orchestrator) dispatch(ctx context.Context, feed *config.Feed) ([]jobs.Job, error) {
	if feed.FetchMethod == config.TransportHeadless {
		if o.headless == nil {
			return nil, &fetch.Error{Kind: fetch.KindFatal, Source: feed.Name,
				Err: fmt.Errorf("no headless fetcher configured")}
		}
		ctx, cancel := context.WithTimeout(ctx, o.navTimeout(feed))
		defer cancel()
		return o.headless.Fetch(ctx, feed)
	}
	return o.static.Fetch(ctx, feed)
}

// navTimeout picks the navigation budget for a headless source: anti-bot
// sites get 60s (interstitial waits included), other headless boards are
// assumed SPA-slow and get 90s.
func (o *Orchestrator) navTimeout(feed *config.Feed) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.challenged[browser.DomainKey(feed.URL)] {
		return antiBotNavTimeout
	}
	return spaNavTimeout
}

// finishRun applies the cross-source half of the pipeline: relevance
// matching, the operator's interest-profile criteria, fuzzy dedup, the
// expiry sweep, then one sink write.  Order within each source's batch is
// preserved; every stage is a stable filter.
func (o *Orchestrator) finishRun(ctx context.Context, combined []jobs.Job) []jobs.Job {
	matched := o.criteria.Filter(o.matcher.Filter(combined))

	deduped, removed := o.dedup.Deduplicate(matched)
	o.metrics.DuplicatesRemoved(removed)

	fresh, expired := jobs.FilterExpired(deduped, time.Now(), o.cfg.MaxJobAge())
	o.metrics.ExpiredRemoved(expired)

	o.log.Info().
		Int("fetched", len(combined)).
		Int("matched", len(matched)).
		Int("duplicates", removed).
		Int("expired", expired).
		Msg("pipeline applied")

	if o.sink != nil && len(fresh) > 0 {
		if err := o.sink.Store(ctx, fresh); err != nil {
			o.log.Error().Err(err).Msg("sink store failed")
		}
	}
	return fresh
}

// retryBudget classifies the source: generic sites get the configured
// default, headless sites that have challenged us before get the anti-bot
// budget, other headless (SPA) sites the short one.
func (o *Orchestrator) retryBudget(feed *config.Feed) int {
	if feed.FetchMethod != config.TransportHeadless {
		if o.cfg.MaxRetries > 0 {
			return o.cfg.MaxRetries
		}
		return 3
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.challenged[browser.DomainKey(feed.URL)] {
		return antiBotRetries
	}
	return spaRetries
}

// Statuses returns a snapshot of per-source operational state, sorted by
// name.
func (o *Orchestrator) Statuses() []SourceStatus {
	o.mu.Lock()
	out := make([]SourceStatus, 0, len(o.status))
	for _, s := range o.status {
		out = append(out, *s)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (o *Orchestrator) noteAttempt(source string) {
	o.mu.Lock()
	if s, ok := o.status[source]; ok {
		s.Attempts++
		s.LastRun = time.Now()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) noteChallenge(sourceURL string) {
	o.mu.Lock()
	o.challenged[browser.DomainKey(sourceURL)] = true
	o.mu.Unlock()
}

func (o *Orchestrator) recordSuccess(source string, jobCount int) {
	o.mu.Lock()
	if s, ok := o.status[source]; ok {
		s.Jobs = jobCount
		s.LastError = ""
		s.LastErrorKind = ""
		s.Quarantined = false
	}
	o.mu.Unlock()
}

func (o *Orchestrator) recordError(source string, err error, kind fetch.Kind, quarantined bool) {
	o.mu.Lock()
	if s, ok := o.status[source]; ok {
		s.Errors++
		s.LastError = err.Error()
		s.LastErrorKind = string(kind)
		s.Quarantined = quarantined
	}
	o.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
