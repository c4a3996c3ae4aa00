// Package parser turns fetched documents into normalized Job records.
//
// Each parser is a pure function from a parsed HTML document plus its feed
// descriptor to a sequence of jobs.  Parsers never fail: on malformed or
// unrecognised markup they return an empty slice and log the shape they saw,
// leaving retry/abort decisions entirely to the orchestrator.
//
// Site markup drifts constantly, so every field is extracted through a chain
// of named selectors; the first selector whose result is non-empty wins.
// This localises selector churn: a minor site redesign usually means adding
// one selector to one chain, covered by one regression test.
package parser

import (
	"fmt"
	"sort"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/dkoval/jobsift/config"
	"github.com/dkoval/jobsift/jobs"
)

// Func extracts jobs from doc on behalf of feed.  Implementations must be
// pure: no I/O, no retained references to doc, and never a panic on
// malformed input.
type Func func(doc *goquery.Document, feed *config.Feed) []jobs.Job

// Registry maps parser IDs to parser functions.
//
// Thread-safety: registration happens during startup wiring; lookups happen
// concurrently from every source goroutine.  An RWMutex keeps both safe
// without contention on the hot path.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Func
	log     zerolog.Logger
}

// NewRegistry creates a Registry pre-populated with the built-in site
// parsers.
func NewRegistry(log zerolog.Logger) *Registry {
	r := &Registry{
		parsers: make(map[string]Func),
		log:     log.With().Str("component", "parser").Logger(),
	}
	r.Register("job-card", r.parseJobCards)
	r.Register("remotive", r.parseRemotive)
	r.Register("lever", r.parseLever)
	r.Register("greenhouse", r.parseGreenhouse)
	return r
}

// Register binds id to fn, replacing any previous binding.
func (r *Registry) Register(id string, fn Func) {
	r.mu.Lock()
	r.parsers[id] = fn
	r.mu.Unlock()
}

// Lookup resolves a parser ID.  The error names the unknown ID and the
// registered alternatives, since a typo in a config file is the usual cause.
func (r *Registry) Lookup(id string) (Func, error) {
	r.mu.RLock()
	fn, ok := r.parsers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("parser: unknown parser %q (registered: %v)", id, r.IDs())
	}
	return fn, nil
}

// IDs returns the registered parser IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.parsers))
	for id := range r.parsers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Parse runs the parser registered for feed.Parser against doc.  Unknown
// parser IDs yield an empty batch; config validation should have caught them
// long before this point.
//
// A panicking parser (malformed markup tripping an untested path) is
// contained here: the batch is dropped and the panic logged, never
// propagated across the ingestion boundary.
func (r *Registry) Parse(doc *goquery.Document, feed *config.Feed) (batch []jobs.Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("feed", feed.Name).Interface("panic", rec).
				Msg("parser panicked; dropping batch")
			batch = nil
		}
	}()

	fn, err := r.Lookup(feed.Parser)
	if err != nil {
		r.log.Error().Str("feed", feed.Name).Err(err).Msg("parse dispatch failed")
		return nil
	}
	return EnsureUniqueIDs(fn(doc, feed))
}
