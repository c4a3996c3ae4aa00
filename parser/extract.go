package parser

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// firstText walks the selector chain and returns the trimmed text of the
// first selector that yields a non-empty result.  Returns "" when every
// selector misses – callers decide whether the field is required.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(s.Find(sel).First().Text()); text != "" {
			return collapseSpace(text)
		}
	}
	return ""
}

// firstAttr is firstText for attributes: each chain entry is a
// "selector@attr" pair, e.g. "a.job-link@href" or "div@data-job-id".
func firstAttr(s *goquery.Selection, chain ...string) string {
	for _, entry := range chain {
		sel, attr, ok := strings.Cut(entry, "@")
		if !ok {
			continue
		}
		target := s.Find(sel).First()
		if sel == "" {
			target = s.First()
		}
		if val, exists := target.Attr(attr); exists {
			if val = strings.TrimSpace(val); val != "" {
				return val
			}
		}
	}
	return ""
}

// collapseSpace squeezes runs of whitespace (including newlines from
// pretty-printed markup) into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveURL makes href absolute against the feed URL's scheme and host.
// Already-absolute hrefs pass through; unparseable input returns "".
func resolveURL(base, href string) string {
	if href == "" {
		return ""
	}
	hu, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if hu.IsAbs() {
		return hu.String()
	}
	bu, err := url.Parse(base)
	if err != nil || bu.Scheme == "" {
		return ""
	}
	return bu.ResolveReference(hu).String()
}

// ContentHash derives a stable 16-hex-digit identifier for a job block that
// exposes no URL or native ID.  The ordinal-in-page keeps identical blocks
// (site bugs, layout duplication) distinct, so the same page always hashes
// to the same ID set across runs.
func ContentHash(title, company string, ordinal int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", title, company, ordinal)
	return fmt.Sprintf("%016x", h.Sum64())
}

// StableID picks the job identity per the parser contract: a site-native ID
// when present, else the posting URL, else a content hash over
// title|company|ordinal.
func StableID(nativeID, jobURL, title, company string, ordinal int) string {
	if nativeID != "" {
		return nativeID
	}
	if jobURL != "" {
		return jobURL
	}
	return ContentHash(title, company, ordinal)
}

// idFromURL extracts a site-native identifier from the last path segment of
// a posting URL when it looks like one (digits or a long opaque token).
func idFromURL(jobURL string) string {
	u, err := url.Parse(jobURL)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 {
		return ""
	}
	last := segs[len(segs)-1]
	if last == "" || len(last) < 4 {
		return ""
	}
	for _, r := range last {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-' || r == '_') {
			return ""
		}
	}
	return last
}
