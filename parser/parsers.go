package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dkoval/jobsift/config"
	"github.com/dkoval/jobsift/jobs"
)

// parseJobCards is the generic card-layout parser used by most boards: a
// repeated container per posting with title/company/link somewhere inside.
// Selector chains cover the container and field variants seen across the
// configured sites; extend the chains rather than forking the parser when a
// site redesigns.
func (r *Registry) parseJobCards(doc *goquery.Document, feed *config.Feed) []jobs.Job {
	cards := findAny(doc,
		".job-card",
		"article.job",
		"li.job-listing",
		"div.job-listing",
		"div.job",
		"[data-job-id]",
	)
	if cards == nil {
		r.logShape(doc, feed, "no job card containers matched")
		return nil
	}

	var batch []jobs.Job
	skipped := 0
	cards.Each(func(i int, s *goquery.Selection) {
		title := firstText(s,
			"h2.job-title", "h3.job-title", ".job-title", ".title",
			"h2 a", "h3 a", "h2", "h3",
		)
		if title == "" {
			skipped++
			return
		}
		company := firstText(s, ".company-name", ".company", ".employer", ".org")
		if company == "" {
			company = feed.Name
		}
		href := firstAttr(s, "a.job-link@href", "h2 a@href", "h3 a@href", "a@href")
		jobURL := resolveURL(feed.URL, href)
		nativeID := firstAttr(s, "@data-job-id", "@data-id")
		if nativeID == "" {
			nativeID = idFromURL(jobURL)
		}

		batch = append(batch, jobs.Job{
			ID:       StableID(nativeID, jobURL, title, company, i),
			Title:    title,
			Company:  company,
			URL:      jobURL,
			Source:   feed.Name,
			Location: firstText(s, ".job-location", ".location", "[data-location]"),
			Salary:   firstText(s, ".salary", ".compensation"),
			JobType:  firstText(s, ".job-type", ".employment-type"),
			IsRemote: containsRemote(firstText(s, ".job-location", ".location") + " " + title),
		})
	})
	if skipped > 0 {
		r.log.Warn().Str("feed", feed.Name).Int("skipped", skipped).
			Msg("job cards without a title were skipped")
	}
	return batch
}

// remotiveAllowedLocations gates the legacy per-site content filter below.
var remotiveAllowedLocations = []string{"worldwide", "remote", "usa", "europe", "anywhere"}

// parseRemotive handles remotive.com category listings.  It keeps the
// site's legacy content filter: only Customer Service postings in the
// allowed locations pass.  Candidate for hoisting into the matcher taxonomy
// (see DESIGN.md), kept here for output compatibility with the existing
// site configuration.
func (r *Registry) parseRemotive(doc *goquery.Document, feed *config.Feed) []jobs.Job {
	rows := findAny(doc, "li.job-li", "tr.job", "div.job-tile")
	if rows == nil {
		r.logShape(doc, feed, "no remotive job rows matched")
		return nil
	}

	var batch []jobs.Job
	rows.Each(func(i int, s *goquery.Selection) {
		title := firstText(s, "span.remotive-bold", "a.job-title", "h3")
		if title == "" {
			return
		}
		category := strings.ToLower(firstText(s, ".job-category", ".tag-category"))
		if category != "" && !strings.Contains(category, "customer service") {
			return
		}
		location := firstText(s, "span.job-location", ".location")
		if location != "" && !locationAllowed(location, remotiveAllowedLocations) {
			return
		}
		company := firstText(s, "span.company", ".company-name", "p.company")
		if company == "" {
			company = feed.Name
		}
		href := firstAttr(s, "a.job-title@href", "a@href")
		jobURL := resolveURL(feed.URL, href)

		batch = append(batch, jobs.Job{
			ID:       StableID(idFromURL(jobURL), jobURL, title, company, i),
			Title:    title,
			Company:  company,
			URL:      jobURL,
			Source:   feed.Name,
			Location: location,
			IsRemote: true,
		})
	})
	return batch
}

// parseLever handles jobs.lever.co board pages.
func (r *Registry) parseLever(doc *goquery.Document, feed *config.Feed) []jobs.Job {
	postings := findAny(doc, "div.posting", "a.posting-title")
	if postings == nil {
		r.logShape(doc, feed, "no lever postings matched")
		return nil
	}

	// Lever boards carry the company once in the page header, not per
	// posting.
	company := firstText(doc.Selection, ".main-header-text h2", "title")
	if idx := strings.IndexAny(company, "-–|"); idx > 0 {
		company = strings.TrimSpace(company[:idx])
	}
	if company == "" {
		company = feed.Name
	}

	var batch []jobs.Job
	postings.Each(func(i int, s *goquery.Selection) {
		title := firstText(s, "h5[data-qa=posting-name]", "h5", ".posting-title h5")
		if title == "" {
			return
		}
		href := firstAttr(s, "a.posting-title@href", "a@href")
		jobURL := resolveURL(feed.URL, href)
		location := firstText(s, ".posting-categories .sort-by-location", ".location")

		batch = append(batch, jobs.Job{
			ID:       StableID(idFromURL(jobURL), jobURL, title, company, i),
			Title:    title,
			Company:  company,
			URL:      jobURL,
			Source:   feed.Name,
			Location: location,
			JobType:  firstText(s, ".posting-categories .sort-by-commitment", ".commitment"),
			IsRemote: containsRemote(location),
		})
	})
	return batch
}

// parseGreenhouse handles boards.greenhouse.io pages.
func (r *Registry) parseGreenhouse(doc *goquery.Document, feed *config.Feed) []jobs.Job {
	openings := findAny(doc, "div.opening", "tr.job-post")
	if openings == nil {
		r.logShape(doc, feed, "no greenhouse openings matched")
		return nil
	}

	company := firstText(doc.Selection, "h1.company-name", "title")
	if idx := strings.Index(company, " at "); idx > 0 {
		company = strings.TrimSpace(company[idx+4:])
	}
	if company == "" {
		company = feed.Name
	}

	var batch []jobs.Job
	openings.Each(func(i int, s *goquery.Selection) {
		title := firstText(s, "a", "p.body--medium")
		if title == "" {
			return
		}
		href := firstAttr(s, "a@href")
		jobURL := resolveURL(feed.URL, href)
		location := firstText(s, "span.location", ".location", "p.body--metadata")

		batch = append(batch, jobs.Job{
			ID:       StableID(idFromURL(jobURL), jobURL, title, company, i),
			Title:    title,
			Company:  company,
			URL:      jobURL,
			Source:   feed.Name,
			Location: location,
			IsRemote: containsRemote(location),
		})
	})
	return batch
}

// findAny returns the first container selector that matches at least one
// node, or nil when all miss.
func findAny(doc *goquery.Document, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		if s := doc.Find(sel); s.Length() > 0 {
			return s
		}
	}
	return nil
}

// logShape records what an unrecognised page looked like so selector drift
// can be diagnosed from logs alone.
func (r *Registry) logShape(doc *goquery.Document, feed *config.Feed, msg string) {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	r.log.Warn().
		Str("feed", feed.Name).
		Str("page_title", title).
		Int("divs", doc.Find("div").Length()).
		Int("links", doc.Find("a").Length()).
		Msg(msg)
}

func containsRemote(s string) bool {
	return strings.Contains(strings.ToLower(s), "remote")
}

func locationAllowed(location string, allowed []string) bool {
	loc := strings.ToLower(location)
	for _, a := range allowed {
		if strings.Contains(loc, a) {
			return true
		}
	}
	return false
}
