package dedup

import (
	"github.com/dkoval/jobsift/jobs"
)

// DefaultThreshold is the normalized-title similarity at or above which two
// same-company postings are considered duplicates.
const DefaultThreshold = 0.90

// Deduplicator collapses fuzzy duplicates from parsed batches.
type Deduplicator struct {
	threshold float64
}

// New creates a Deduplicator.  A non-positive threshold falls back to
// DefaultThreshold.
func New(threshold float64) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Deduplicator{threshold: threshold}
}

// Similarity scores how alike two postings are, in [0, 1].
//
// Different companies can never be duplicates: when the normalized company
// names differ the similarity is 0 regardless of the titles.  Otherwise the
// score is the sequence ratio 2·M/(|A|+|B|) of the normalized titles, where
// M is the length of their longest common subsequence.
func (d *Deduplicator) Similarity(a, b *jobs.Job) float64 {
	if NormalizeCompany(a.Company) != NormalizeCompany(b.Company) {
		return 0
	}
	return ratio(NormalizeTitle(a.Title), NormalizeTitle(b.Title))
}

// IsDuplicate reports whether b is a fuzzy duplicate of a.
func (d *Deduplicator) IsDuplicate(a, b *jobs.Job) bool {
	return d.Similarity(a, b) >= d.threshold
}

// Deduplicate returns the subsequence of in keeping only the first
// occurrence of each fuzzy-duplicate class, preserving input order.  The
// second return value is the number of jobs dropped.
//
// Candidates are bucketed by normalized company before the pairwise scan:
// cross-company pairs score 0 by definition, so skipping them changes the
// cost from O(n²) over the whole batch to O(n²) within each company without
// changing the observable result.
func (d *Deduplicator) Deduplicate(in []jobs.Job) ([]jobs.Job, int) {
	out := make([]jobs.Job, 0, len(in))
	byCompany := make(map[string][]int) // normalized company -> indexes into out
	dropped := 0

	for i := range in {
		j := &in[i]
		key := NormalizeCompany(j.Company)
		dup := false
		for _, idx := range byCompany[key] {
			if d.IsDuplicate(&out[idx], j) {
				dup = true
				break
			}
		}
		if dup {
			dropped++
			continue
		}
		out = append(out, *j)
		byCompany[key] = append(byCompany[key], len(out)-1)
	}
	return out, dropped
}

// ratio computes 2·M/(|A|+|B|) where M is the longest-common-subsequence
// length of a and b at rune granularity.  Two empty strings are identical by
// convention.
func ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	m := lcs(ra, rb)
	return 2 * float64(m) / float64(len(ra)+len(rb))
}

// lcs is the classic two-row dynamic program, O(|a|·|b|) time and O(|b|)
// space.  Titles are short (tens of runes) so this is well under a
// microsecond per pair.
func lcs(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
