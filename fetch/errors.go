// Package fetch retrieves source listings over the static HTTP path (rss,
// json, html) and the headless browser path, and turns them into parsed job
// batches.
//
// Fetchers never decide retries.  Every failure is wrapped in an *Error
// carrying a Kind, and the orchestrator is the single place that maps kinds
// to retry, abort or quarantine.
package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a fetch failure for the orchestrator's retry policy and
// the fetch_errors metric label.
type Kind string

const (
	// KindTransient: timeouts, connection resets, 5xx, 429, navigation
	// timeouts.  Retried under the source's backoff.
	KindTransient Kind = "transient"

	// KindPermanent: 404, 403, malformed payloads, parser misses.  No retry
	// this run; the source contributes nothing.
	KindPermanent Kind = "permanent"

	// KindChallenge: anti-bot detection that mitigation could not clear.
	// The source is quarantined until the next scheduled run.
	KindChallenge Kind = "challenge"

	// KindFatal: process-level failures (browser pool cannot start).
	// Propagated to the orchestrator's caller.
	KindFatal Kind = "fatal"
)

// Error is the failure type crossing the fetcher boundary.
type Error struct {
	Kind   Kind
	Source string
	Status int // HTTP status when one was received, else 0
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %v (status %d, %s)", e.Source, e.Err, e.Status, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %v (%s)", e.Source, e.Err, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err.  Anything not wrapped by a fetcher is
// treated as transient: network plumbing errors are the usual cause and a
// retry is the cheap answer.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// RateLimited reports whether err was a 429 response, which the orchestrator
// counts separately from other transient failures.
func RateLimited(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Status == http.StatusTooManyRequests
}

// classifyStatus maps a non-2xx HTTP status to an error kind.
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
