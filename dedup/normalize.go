// Package dedup collapses near-duplicate job postings using title
// normalization and similarity scoring.
package dedup

import (
	"strings"
	"unicode"
)

// abbreviations maps title tokens to their expansions.  The table is part of
// the pipeline contract: it must stay stable across runs or previously
// distinct postings would suddenly collide.  Both the dotted and bare forms
// are listed so normalization is idempotent regardless of where punctuation
// stripping happens.
//
// The ambiguous "qa" key maps authoritatively to "quality assurance"
// (see DESIGN.md).
var abbreviations = map[string]string{
	"sr.":     "senior",
	"sr":      "senior",
	"jr.":     "junior",
	"jr":      "junior",
	"mgr.":    "manager",
	"mgr":     "manager",
	"eng.":    "engineer",
	"eng":     "engineer",
	"dev.":    "developer",
	"dev":     "developer",
	"assoc.":  "associate",
	"assoc":   "associate",
	"asst.":   "assistant",
	"asst":    "assistant",
	"dir.":    "director",
	"dir":     "director",
	"coord.":  "coordinator",
	"coord":   "coordinator",
	"admin.":  "administrator",
	"admin":   "administrator",
	"spec.":   "specialist",
	"spec":    "specialist",
	"rep.":    "representative",
	"rep":     "representative",
	"exec.":   "executive",
	"exec":    "executive",
	"acct.":   "accountant",
	"acct":    "accountant",
	"mktg.":   "marketing",
	"mktg":    "marketing",
	"ops.":    "operations",
	"ops":     "operations",
	"tech.":   "technical",
	"tech":    "technical",
	"supv.":   "supervisor",
	"supv":    "supervisor",
	"intl.":   "international",
	"intl":    "international",
	"mgmt.":   "management",
	"mgmt":    "management",
	"cust.":   "customer",
	"cust":    "customer",
	"svc.":    "service",
	"svc":     "service",
	"svcs.":   "services",
	"svcs":    "services",
	"qa":      "quality assurance",
	"vp":      "vice president",
	"hr":      "human resources",
	"pt":      "part time",
	"ft":      "full time",
}

// stopwords are removed from titles during normalization; they carry no
// signal for duplicate detection.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"at": true, "in": true, "on": true, "for": true, "with": true, "by": true,
}

// NormalizeTitle canonicalises a job title for similarity comparison:
// lowercase and collapse whitespace, expand the fixed abbreviation table,
// drop stopwords, strip everything but letters, digits and spaces, then
// collapse again.  The function is idempotent.
func NormalizeTitle(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	tokens := strings.Fields(s)

	expanded := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if exp, ok := abbreviations[tok]; ok {
			expanded = append(expanded, strings.Fields(exp)...)
			continue
		}
		expanded = append(expanded, tok)
	}

	kept := expanded[:0]
	for _, tok := range expanded {
		if !stopwords[tok] {
			kept = append(kept, tok)
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	for i, tok := range kept {
		if i > 0 {
			b.WriteByte(' ')
		}
		for _, r := range tok {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
	}
	// Stripping punctuation can leave empty tokens behind (e.g. a title
	// containing a lone "–"); collapse them away.
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeCompany canonicalises a company name.  Deliberately minimal –
// lowercase and trim only – because aggressive company rewriting makes
// distinct employers collide, which is far worse than missing a duplicate.
func NormalizeCompany(company string) string {
	return strings.ToLower(strings.TrimSpace(company))
}
