// Package config provides typed configuration loading for the aggregator.
// Configuration is YAML-based, loaded once at startup, and then shared across
// goroutines as a read-only value, making it inherently thread-safe after
// initialization.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport identifies how a feed is fetched.
type Transport string

// Known transports.  Anything else is rejected at load time.
const (
	TransportRSS      Transport = "rss"
	TransportJSON     Transport = "json"
	TransportHTML     Transport = "html"
	TransportHeadless Transport = "headless"
)

// valid reports whether t is a known transport variant.
func (t Transport) valid() bool {
	switch t {
	case TransportRSS, TransportJSON, TransportHTML, TransportHeadless:
		return true
	}
	return false
}

// RateLimit carries per-feed overrides of the rate limiter defaults.
type RateLimit struct {
	// RequestsPerMinute overrides the source bucket's refill rate.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// RetryAfter overrides the initial backoff, in seconds.
	RetryAfter int `yaml:"retry_after"`
}

// Feed describes one configured origin of job postings.
type Feed struct {
	// Name uniquely identifies the feed within the configuration.
	Name string `yaml:"name"`

	// URL is the feed endpoint.  For the json transport it may also be a
	// local file path.
	URL string `yaml:"url"`

	// Type selects the transport: rss, json, html, or headless.
	Type Transport `yaml:"type"`

	// Parser names the registered parser used to extract jobs.  Required
	// when Type is html or headless; ignored otherwise.
	Parser string `yaml:"parser"`

	// FetchMethod optionally overrides Type for dispatch (e.g. an html feed
	// that must be fetched headless).  Defaults to Type.
	FetchMethod Transport `yaml:"fetch_method"`

	// RateLimit optionally overrides the limiter defaults for this feed.
	RateLimit *RateLimit `yaml:"rate_limit"`

	// Headers and Cookies are injected into every request to this feed.
	Headers map[string]string `yaml:"headers"`
	Cookies map[string]string `yaml:"cookies"`

	// CacheDuration suppresses re-fetching within the given window, in
	// minutes.  Zero disables caching.
	CacheDuration int `yaml:"cache_duration"`
}

// Filters is the operator's interest profile, applied after parsing.
type Filters struct {
	Keywords         []string `yaml:"keywords"`
	Locations        []string `yaml:"locations"`
	Exclude          []string `yaml:"exclude"`
	SalaryMin        int      `yaml:"salary_min"`
	SalaryMax        int      `yaml:"salary_max"`
	JobTypes         []string `yaml:"job_types"`
	ExperienceLevels []string `yaml:"experience_levels"`
	IsRemote         *bool    `yaml:"is_remote"`
	Sources          []string `yaml:"sources"`
}

// Config is the root configuration document.
type Config struct {
	Feeds   []Feed  `yaml:"feeds"`
	Filters Filters `yaml:"filters"`

	// LogLevel sets the minimum log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// DashboardAddr is the listen address of the ops HTTP server
	// (/metrics, /healthz, /api/sources).  Empty disables it.
	DashboardAddr string `yaml:"dashboard_addr"`

	// MaxConcurrentSources bounds how many sources are fetched in parallel.
	MaxConcurrentSources int `yaml:"max_concurrent_sources"`

	// MaxRetries is the default per-source retry budget for transient
	// failures.  Individual sources may be classified harsher or softer by
	// the orchestrator (anti-bot-heavy sites retry more, SPA sites less).
	MaxRetries int `yaml:"max_retries"`

	// StaticTimeout bounds one static HTTP fetch end to end.
	StaticTimeout time.Duration `yaml:"static_timeout"`

	// HeadlessTimeout bounds one headless navigation.
	HeadlessTimeout time.Duration `yaml:"headless_timeout"`

	// MaxBrowserContexts caps the number of live browser contexts; the
	// least-recently-used context is evicted beyond this.
	MaxBrowserContexts int `yaml:"max_browser_contexts"`

	// CookieDir is where per-domain cookie files are persisted.
	CookieDir string `yaml:"cookie_dir"`

	// MaxJobAgeDays is the freshness horizon: jobs last seen (or, failing
	// that, posted) longer ago than this are considered expired.
	MaxJobAgeDays int `yaml:"max_job_age_days"`

	// DedupThreshold is the normalized-title similarity at or above which
	// two same-company jobs are considered duplicates.
	DedupThreshold float64 `yaml:"dedup_threshold"`

	// MinMatchScore is the total taxonomy match count required for a job to
	// be considered relevant.
	MinMatchScore int `yaml:"min_match_score"`
}

// Default returns a Config pre-filled with production-sensible defaults.
// Callers are free to mutate the returned struct before handing it to other
// components; each call returns a fresh independent copy.
func Default() *Config {
	return &Config{
		LogLevel:             "info",
		DashboardAddr:        ":8080",
		MaxConcurrentSources: 4,
		MaxRetries:           3,
		StaticTimeout:        30 * time.Second,
		HeadlessTimeout:      45 * time.Second,
		MaxBrowserContexts:   3,
		CookieDir:            "cookies",
		MaxJobAgeDays:        7,
		DedupThreshold:       0.90,
		MinMatchScore:        1,
	}
}

// Load reads a YAML file at filename, applies defaults for omitted fields,
// and validates the result.  Unknown YAML keys are rejected so typos in
// config files surface early rather than silently doing nothing.
func Load(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is an operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // catch typos in config files early
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural invariants: unique feed names, non-empty URLs,
// known transports, and a parser for every html/headless feed.  It also
// normalises FetchMethod to Type when unset.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Feeds))
	for i := range c.Feeds {
		f := &c.Feeds[i]
		if f.Name == "" {
			return fmt.Errorf("config: feed %d: missing name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("config: duplicate feed name %q", f.Name)
		}
		seen[f.Name] = true
		if f.URL == "" {
			return fmt.Errorf("config: feed %q: missing url", f.Name)
		}
		if !f.Type.valid() {
			return fmt.Errorf("config: feed %q: unknown type %q", f.Name, f.Type)
		}
		if f.FetchMethod == "" {
			f.FetchMethod = f.Type
		} else if !f.FetchMethod.valid() {
			return fmt.Errorf("config: feed %q: unknown fetch_method %q", f.Name, f.FetchMethod)
		}
		needsParser := f.Type == TransportHTML || f.Type == TransportHeadless
		if needsParser && f.Parser == "" {
			return fmt.Errorf("config: feed %q: type %q requires a parser", f.Name, f.Type)
		}
	}
	if c.MaxConcurrentSources < 1 {
		return fmt.Errorf("config: max_concurrent_sources must be >= 1, got %d", c.MaxConcurrentSources)
	}
	if c.MaxBrowserContexts < 1 {
		return fmt.Errorf("config: max_browser_contexts must be >= 1, got %d", c.MaxBrowserContexts)
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("config: dedup_threshold must be in (0, 1], got %g", c.DedupThreshold)
	}
	return nil
}

// MaxJobAge converts MaxJobAgeDays to a duration.
func (c *Config) MaxJobAge() time.Duration {
	return time.Duration(c.MaxJobAgeDays) * 24 * time.Hour
}
