package match

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dkoval/jobsift/jobs"
)

// Criteria narrows taxonomy-matched jobs to the operator's interest profile:
// free-text keywords, locations, an exclude list, a salary band, job types,
// experience levels, the remote flag, and a source allow list.  Every field
// is optional; an empty Criteria keeps everything.
type Criteria struct {
	Keywords         []string
	Locations        []string
	Exclude          []string
	SalaryMin        int
	SalaryMax        int
	JobTypes         []string
	ExperienceLevels []string
	IsRemote         *bool
	Sources          []string
}

// Empty reports whether no criterion is set.
func (c *Criteria) Empty() bool {
	return len(c.Keywords) == 0 && len(c.Locations) == 0 && len(c.Exclude) == 0 &&
		c.SalaryMin == 0 && c.SalaryMax == 0 && len(c.JobTypes) == 0 &&
		len(c.ExperienceLevels) == 0 && c.IsRemote == nil && len(c.Sources) == 0
}

// Match reports whether the job satisfies every set criterion.
//
// Keywords and excludes are case-insensitive substring matches over the
// title, company and description.  Locations match as substrings of the
// job's location; "remote" additionally matches any job flagged remote.
// Jobs without salary information pass the salary band rather than being
// dropped for the source's omission.
func (c *Criteria) Match(j *jobs.Job) bool {
	text := strings.ToLower(j.Title + " " + j.Company + " " + j.Description)

	for _, ex := range c.Exclude {
		if ex != "" && strings.Contains(text, strings.ToLower(ex)) {
			return false
		}
	}
	if len(c.Keywords) > 0 && !anySubstring(text, c.Keywords) {
		return false
	}
	if len(c.Locations) > 0 && !c.matchLocation(j) {
		return false
	}
	if !c.matchSalary(j.Salary) {
		return false
	}
	if len(c.JobTypes) > 0 && !anyNormalizedEqual(j.JobType, c.JobTypes) {
		return false
	}
	if len(c.ExperienceLevels) > 0 && !anySubstring(strings.ToLower(j.ExperienceLevel), c.ExperienceLevels) {
		return false
	}
	if c.IsRemote != nil && j.IsRemote != *c.IsRemote {
		return false
	}
	if len(c.Sources) > 0 && !anyNormalizedEqual(j.Source, c.Sources) {
		return false
	}
	return true
}

// Filter returns the subsequence of in that matches, preserving order.
func (c *Criteria) Filter(in []jobs.Job) []jobs.Job {
	if c.Empty() {
		return in
	}
	out := in[:0:0]
	for i := range in {
		if c.Match(&in[i]) {
			out = append(out, in[i])
		}
	}
	return out
}

func (c *Criteria) matchLocation(j *jobs.Job) bool {
	loc := strings.ToLower(j.Location)
	for _, want := range c.Locations {
		w := strings.ToLower(strings.TrimSpace(want))
		if w == "" {
			continue
		}
		if w == "remote" && j.IsRemote {
			return true
		}
		if loc != "" && strings.Contains(loc, w) {
			return true
		}
	}
	return false
}

// matchSalary checks the advertised salary against the configured band.  The
// advertised range only fails when it lies entirely outside the band.
func (c *Criteria) matchSalary(salary string) bool {
	if c.SalaryMin == 0 && c.SalaryMax == 0 {
		return true
	}
	lo, hi, ok := parseSalaryRange(salary)
	if !ok {
		return true
	}
	if c.SalaryMin > 0 && hi < c.SalaryMin {
		return false
	}
	if c.SalaryMax > 0 && lo > c.SalaryMax {
		return false
	}
	return true
}

var salaryAmountPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([kK])?`)

// parseSalaryRange extracts the numeric bounds from a free-form salary
// string such as "$60,000 - $80,000", "70k-90k USD" or "85000".  A single
// amount yields a degenerate range.  ok is false when no amount is found.
func parseSalaryRange(s string) (lo, hi int, ok bool) {
	for _, m := range salaryAmountPattern.FindAllStringSubmatch(s, -1) {
		raw := strings.ReplaceAll(m[1], ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			v *= 1000
		}
		n := int(v)
		if !ok {
			lo, hi, ok = n, n, true
			continue
		}
		if n < lo {
			lo = n
		}
		if n > hi {
			hi = n
		}
	}
	return lo, hi, ok
}

func anySubstring(text string, needles []string) bool {
	for _, n := range needles {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// anyNormalizedEqual compares ignoring case and separator characters, so
// "full-time" matches "Full Time".
func anyNormalizedEqual(got string, wants []string) bool {
	g := normalizeToken(got)
	if g == "" {
		return false
	}
	for _, w := range wants {
		if normalizeToken(w) == g {
			return true
		}
	}
	return false
}

func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
