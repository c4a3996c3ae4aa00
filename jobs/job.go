// Package jobs defines the Job type – the normalized posting record that
// every other component of the pipeline produces, filters, or consumes.
//
// Job is deliberately a leaf type: it depends on nothing but the standard
// library so that parsers, the deduplicator, the matcher, and the persistence
// boundary can all import it without cycles.
package jobs

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Job represents one normalized job posting.
//
// Identity is carried by ID: two jobs with equal IDs are the same entity and
// downstream persistence treats them as upserts.  After a Job leaves the
// ingestion pipeline it is immutable except for LastSeen, which is refreshed
// when the same posting is observed again.
type Job struct {
	// ID uniquely identifies the posting.  Either a site-native identifier,
	// the posting URL, or a 16-hex-digit content hash when the source exposes
	// neither.
	ID string `json:"id"`

	// Title is the posting title.  Non-empty after trimming.
	Title string `json:"title"`

	// Company is the hiring organisation.  Non-empty after trimming.
	Company string `json:"company"`

	// URL is the canonical posting URL, or empty when the source does not
	// expose one (in which case ID must be a stable content hash).
	URL string `json:"url"`

	// Source names the feed this job was ingested from.
	Source string `json:"source"`

	Location        string    `json:"location,omitempty"`
	Salary          string    `json:"salary,omitempty"`
	JobType         string    `json:"job_type,omitempty"`
	ExperienceLevel string    `json:"experience_level,omitempty"`
	IsRemote        bool      `json:"is_remote,omitempty"`
	Description     string    `json:"description,omitempty"`
	Skills          []string  `json:"skills,omitempty"`
	PostedAt        time.Time `json:"posted_at,omitempty"`

	// PostedAtRaw preserves the source's original date string when it could
	// not be parsed into PostedAt.
	PostedAtRaw string `json:"posted_at_raw,omitempty"`

	// LastSeen is refreshed each time the posting is re-observed.
	LastSeen time.Time `json:"last_seen,omitempty"`

	// Expires is an explicit expiry advertised by the source, if any.
	Expires time.Time `json:"expires,omitempty"`
}

// Validate checks the invariants a Job must satisfy before it may enter the
// pipeline: a non-empty ID, a non-empty trimmed Title and Company, and a
// syntactically valid URL (empty is allowed only because ID is then required
// to be a content hash – the parser contract enforces that half).
func (j *Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("jobs: empty id (title %q, source %q)", j.Title, j.Source)
	}
	if strings.TrimSpace(j.Title) == "" {
		return fmt.Errorf("jobs: job %s: empty title", j.ID)
	}
	if strings.TrimSpace(j.Company) == "" {
		return fmt.Errorf("jobs: job %s: empty company", j.ID)
	}
	if strings.TrimSpace(j.Source) == "" {
		return fmt.Errorf("jobs: job %s: empty source", j.ID)
	}
	if j.URL != "" {
		u, err := url.Parse(j.URL)
		if err != nil {
			return fmt.Errorf("jobs: job %s: invalid url %q: %w", j.ID, j.URL, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("jobs: job %s: url %q missing scheme or host", j.ID, j.URL)
		}
	}
	return nil
}

// Expired reports whether the job is stale at instant now, given the
// configured freshness horizon:
//
//  1. An explicit Expires in the future keeps the job alive regardless of
//     LastSeen; an explicit Expires in the past kills it.
//  2. Otherwise the job expires when LastSeen is older than maxAge.
//  3. When LastSeen is unset, PostedAt stands in for it.
//  4. A job with neither timestamp never expires by age.
func (j *Job) Expired(now time.Time, maxAge time.Duration) bool {
	if !j.Expires.IsZero() {
		return j.Expires.Before(now)
	}
	ref := j.LastSeen
	if ref.IsZero() {
		ref = j.PostedAt
	}
	if ref.IsZero() {
		return false
	}
	return now.Sub(ref) > maxAge
}

// Touch refreshes LastSeen to now.  Called on re-observation of a posting
// that already exists downstream.
func (j *Job) Touch(now time.Time) {
	j.LastSeen = now
}

// FilterExpired returns the subsequence of in whose entries are not expired
// at instant now, preserving order.  The second return value is the number
// of jobs removed, for metrics accounting.
func FilterExpired(in []Job, now time.Time, maxAge time.Duration) ([]Job, int) {
	out := in[:0:0]
	removed := 0
	for _, j := range in {
		if j.Expired(now, maxAge) {
			removed++
			continue
		}
		out = append(out, j)
	}
	return out, removed
}
