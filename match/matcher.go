// Package match classifies jobs against a taxonomy of named categories and
// rejects postings outside the operator's interest profile before they reach
// storage.
package match

import (
	"regexp"
	"strings"
	"sync"

	"github.com/dkoval/jobsift/jobs"
)

// Taxonomy maps category names to their phrase keywords.
type Taxonomy map[string][]string

// DefaultTaxonomy covers the support/operations profile the aggregator ships
// with.  Operators replace it wholesale from configuration.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		"customer_support": {
			"customer support", "customer service", "customer success",
			"customer care", "customer experience",
		},
		"support_roles": {
			"support specialist", "support agent", "support representative",
			"support engineer", "help desk", "service desk",
		},
		"technical_support": {
			"technical support", "application support", "product support",
			"it support", "desktop support",
		},
		"specialist_roles": {
			"onboarding specialist", "implementation specialist",
			"implementation consultant", "account specialist",
		},
		"compliance_analysis": {
			"compliance analyst", "compliance specialist", "kyc analyst",
			"risk analyst", "fraud analyst",
		},
		"operations": {
			"operations specialist", "operations coordinator",
			"operations analyst", "business operations",
		},
	}
}

// componentAllowList names the single words that a phrase keyword may
// contribute to its category on their own.  Without this gate, common words
// like "engineer" or "analyst" inside a phrase would inflate matches far
// outside the taxonomy's intent.
var componentAllowList = map[string]bool{
	"support":        true,
	"customer":       true,
	"compliance":     true,
	"operations":     true,
	"implementation": true,
	"onboarding":     true,
}

// DefaultExcludes are patterns that zero a job's score across all categories
// regardless of keyword matches.
var DefaultExcludes = []string{
	"software engineer", "software developer", "full stack", "frontend",
	"backend", "devops", "data scientist", "machine learning", "ai engineer",
	"web developer", "mobile developer", "ios developer", "android developer",
	"ui/ux designer", "product manager", "project manager", "scrum master",
	"engineering manager",
}

// Matcher scores jobs against a taxonomy.  Construct once at startup; the
// compiled pattern tables are immutable afterwards, so a single Matcher may
// be shared by every source goroutine.
type Matcher struct {
	categories map[string][]*regexp.Regexp
	excludes   []*regexp.Regexp
	minScore   int
}

// patternCache avoids recompiling identical keyword patterns across
// categories; the default taxonomy alone has overlapping component words.
var patternCache sync.Map // string -> *regexp.Regexp

// compilePattern builds a case-insensitive, word-boundary-anchored pattern
// for a keyword phrase.  Characters with regexp meaning (e.g. the slash in
// "ui/ux designer") are quoted.
func compilePattern(keyword string) *regexp.Regexp {
	if cached, ok := patternCache.Load(keyword); ok {
		return cached.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
	patternCache.Store(keyword, re)
	return re
}

// New creates a Matcher over the given taxonomy and exclude list.  Nil or
// empty arguments fall back to the defaults; minScore below 1 becomes 1.
func New(tax Taxonomy, excludes []string, minScore int) *Matcher {
	if len(tax) == 0 {
		tax = DefaultTaxonomy()
	}
	if excludes == nil {
		excludes = DefaultExcludes
	}
	if minScore < 1 {
		minScore = 1
	}

	m := &Matcher{
		categories: make(map[string][]*regexp.Regexp, len(tax)),
		minScore:   minScore,
	}
	for category, phrases := range tax {
		seen := make(map[string]bool)
		var patterns []*regexp.Regexp
		for _, phrase := range phrases {
			phrase = strings.ToLower(strings.TrimSpace(phrase))
			if phrase == "" || seen[phrase] {
				continue
			}
			seen[phrase] = true
			patterns = append(patterns, compilePattern(phrase))

			// A phrase's component words join the category only when
			// allow-listed; see componentAllowList.
			for _, word := range strings.Fields(phrase) {
				if componentAllowList[word] && !seen[word] {
					seen[word] = true
					patterns = append(patterns, compilePattern(word))
				}
			}
		}
		m.categories[category] = patterns
	}
	for _, ex := range excludes {
		m.excludes = append(m.excludes, compilePattern(ex))
	}
	return m
}

// Score returns the per-category count of distinct keyword patterns matching
// the job's text.  An exclude-list hit zeroes every category.
func (m *Matcher) Score(j *jobs.Job) map[string]int {
	text := j.Title + " " + j.Company + " " + j.Description
	scores := make(map[string]int, len(m.categories))

	for _, ex := range m.excludes {
		if ex.MatchString(text) {
			return scores
		}
	}
	for category, patterns := range m.categories {
		count := 0
		for _, p := range patterns {
			if p.MatchString(text) {
				count++
			}
		}
		if count > 0 {
			scores[category] = count
		}
	}
	return scores
}

// Relevant reports whether the job's total match count across all categories
// meets the configured minimum score.
func (m *Matcher) Relevant(j *jobs.Job) bool {
	total := 0
	for _, c := range m.Score(j) {
		total += c
	}
	return total >= m.minScore
}

// Filter returns the subsequence of in that is relevant, preserving order.
func (m *Matcher) Filter(in []jobs.Job) []jobs.Job {
	out := in[:0:0]
	for i := range in {
		if m.Relevant(&in[i]) {
			out = append(out, in[i])
		}
	}
	return out
}
