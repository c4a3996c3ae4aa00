// Package metrics tracks aggregate statistics for the ingestion pipeline,
// exposed in Prometheus format through the dashboard server.
//
// All counters are additive; they reset only through an explicit Reset call
// (used between test runs, never in normal operation).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline's Prometheus collectors.
//
// The struct may be shared freely across goroutines: prometheus collectors
// are internally synchronised, so no additional locking is required even
// with every source fetching concurrently.
type Metrics struct {
	registry *prometheus.Registry

	jobsFetched       *prometheus.CounterVec
	fetchErrors       *prometheus.CounterVec
	rateLimitHits     *prometheus.CounterVec
	duplicatesRemoved prometheus.Counter
	expiredRemoved    prometheus.Counter
	responseTime      *prometheus.HistogramVec
	uptime            prometheus.GaugeFunc

	startTime time.Time
}

// New creates a Metrics instance with all collectors registered on a private
// registry.  A private registry (rather than the package-global default)
// keeps tests independent and lets the caller decide what else to expose.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	start := time.Now()

	m := &Metrics{
		registry:  reg,
		startTime: start,
		jobsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsift_jobs_fetched_total",
			Help: "Jobs emitted by parsers, per source, before filtering.",
		}, []string{"source"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsift_fetch_errors_total",
			Help: "Fetch failures per source and error kind.",
		}, []string{"source", "kind"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsift_rate_limit_hits_total",
			Help: "Times a source's acquisition had to wait on the limiter.",
		}, []string{"source"}),
		duplicatesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobsift_duplicates_removed_total",
			Help: "Jobs dropped by the fuzzy deduplicator.",
		}),
		expiredRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobsift_expired_jobs_removed_total",
			Help: "Jobs dropped by the freshness-horizon filter.",
		}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobsift_fetch_duration_seconds",
			Help:    "Wall-clock duration of one source fetch, by transport.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}, []string{"transport"}),
	}
	m.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "jobsift_uptime_seconds",
		Help: "Seconds since process start.",
	}, func() float64 { return time.Since(start).Seconds() })

	reg.MustRegister(m.jobsFetched, m.fetchErrors, m.rateLimitHits,
		m.duplicatesRemoved, m.expiredRemoved, m.responseTime, m.uptime)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobsFetched records n jobs parsed from source.
func (m *Metrics) JobsFetched(source string, n int) {
	m.jobsFetched.WithLabelValues(source).Add(float64(n))
}

// FetchError records one failure of the given kind for source.
func (m *Metrics) FetchError(source, kind string) {
	m.fetchErrors.WithLabelValues(source, kind).Inc()
}

// RateLimitHit records that source had to wait on the rate limiter.
func (m *Metrics) RateLimitHit(source string) {
	m.rateLimitHits.WithLabelValues(source).Inc()
}

// DuplicatesRemoved records n jobs collapsed by the deduplicator.
func (m *Metrics) DuplicatesRemoved(n int) {
	m.duplicatesRemoved.Add(float64(n))
}

// ExpiredRemoved records n jobs dropped as stale.
func (m *Metrics) ExpiredRemoved(n int) {
	m.expiredRemoved.Add(float64(n))
}

// ObserveFetch records the duration of one fetch on the given transport.
func (m *Metrics) ObserveFetch(transport string, d time.Duration) {
	m.responseTime.WithLabelValues(transport).Observe(d.Seconds())
}

// Reset zeroes the labelled counter families.  Only intended for tests and
// explicit operator action; counters are otherwise monotonically additive.
func (m *Metrics) Reset() {
	m.jobsFetched.Reset()
	m.fetchErrors.Reset()
	m.rateLimitHits.Reset()
	m.responseTime.Reset()
}
