package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/dkoval/jobsift/challenge"
	"github.com/dkoval/jobsift/client"
	"github.com/dkoval/jobsift/config"
	"github.com/dkoval/jobsift/fingerprint"
	"github.com/dkoval/jobsift/jobs"
	"github.com/dkoval/jobsift/parser"
	"github.com/dkoval/jobsift/proxy"
)

// maxBodySize caps response bodies; a listing page past this is broken or
// hostile.
const maxBodySize = 10 << 20

// jsonWrapperKeys are the object keys tried, in order, when a JSON payload
// is not a top-level array.  First present array wins.
var jsonWrapperKeys = []string{"jobs", "results", "items", "data", "listings"}

// jsonFieldKeys lists the candidate keys per extracted field, highest
// priority first.
var jsonFieldKeys = map[string][]string{
	"id":          {"id", "job_id", "jobId", "slug", "guid"},
	"title":       {"title", "position", "name", "job_title", "role"},
	"company":     {"company", "company_name", "employer", "organization"},
	"url":         {"url", "link", "href", "apply_url", "absolute_url"},
	"date":        {"date", "published", "published_at", "publication_date", "created_at", "posted_at"},
	"location":    {"location", "candidate_required_location", "city", "region"},
	"salary":      {"salary", "compensation", "salary_range"},
	"description": {"description", "summary", "snippet", "excerpt"},
	"job_type":    {"job_type", "type", "employment_type", "commitment"},
}

// dateLayouts are tried in order when parsing JSON date strings; RSS dates
// go through gofeed's own lenient parsing instead.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// Static fetches rss, json and html feeds over plain HTTP with a
// fingerprinted client per feed.  Each feed keeps its own client so cookie
// jars (including solved challenge cookies) never mix between sources.
type Static struct {
	profile  *fingerprint.Profile
	registry *parser.Registry
	proxies  *proxy.Pool
	schema   *SchemaWatch
	timeout  time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewStatic builds the static fetcher.  proxies may be a disabled pool.
func NewStatic(cfg *config.Config, registry *parser.Registry, proxies *proxy.Pool, profile *fingerprint.Profile, log zerolog.Logger) *Static {
	if profile == nil {
		profile = fingerprint.Chrome()
	}
	return &Static{
		profile:  profile,
		registry: registry,
		proxies:  proxies,
		schema:   NewSchemaWatch(),
		timeout:  cfg.StaticTimeout,
		log:      log.With().Str("component", "fetch.static").Logger(),
		clients:  make(map[string]*http.Client),
	}
}

// Fetch dispatches on the feed's fetch method.  The caller has already been
// through the rate limiter.
func (s *Static) Fetch(ctx context.Context, feed *config.Feed) ([]jobs.Job, error) {
	switch feed.FetchMethod {
	case config.TransportRSS:
		return s.fetchRSS(ctx, feed)
	case config.TransportJSON:
		return s.fetchJSON(ctx, feed)
	case config.TransportHTML:
		return s.fetchHTML(ctx, feed)
	default:
		return nil, &Error{Kind: KindFatal, Source: feed.Name,
			Err: fmt.Errorf("static fetcher cannot serve transport %q", feed.FetchMethod)}
	}
}

func (s *Static) fetchRSS(ctx context.Context, feed *config.Feed) ([]jobs.Job, error) {
	body, err := s.get(ctx, feed, feed.URL)
	if err != nil {
		return nil, err
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Source: feed.Name,
			Err: fmt.Errorf("parse feed: %w", err)}
	}

	batch := make([]jobs.Job, 0, len(parsed.Items))
	for i, item := range parsed.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			s.log.Warn().Str("feed", feed.Name).Int("entry", i).Msg("feed entry without a title skipped")
			continue
		}
		link := resolveRef(feed.URL, item.Link)

		job := jobs.Job{
			ID:          parser.StableID(item.GUID, link, title, rssCompany(item, parsed), i),
			Title:       title,
			Company:     rssCompany(item, parsed),
			URL:         link,
			Source:      feed.Name,
			Description: strings.TrimSpace(item.Description),
			PostedAtRaw: item.Published,
			IsRemote:    containsRemote(title + " " + item.Description),
		}
		if item.PublishedParsed != nil {
			job.PostedAt = *item.PublishedParsed
		}
		batch = append(batch, job)
	}
	return parser.EnsureUniqueIDs(batch), nil
}

// rssCompany resolves the company for a feed entry: an explicit company
// element, then the entry author, then the channel title.
func rssCompany(item *gofeed.Item, parsed *gofeed.Feed) string {
	if c, ok := item.Custom["company"]; ok && strings.TrimSpace(c) != "" {
		return strings.TrimSpace(c)
	}
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	return strings.TrimSpace(parsed.Title)
}

func (s *Static) fetchJSON(ctx context.Context, feed *config.Feed) ([]jobs.Job, error) {
	var (
		body []byte
		err  error
	)
	if path, local := localPath(feed.URL); local {
		body, err = os.ReadFile(path) // #nosec G304 -- operator-configured feed path
		if err != nil {
			return nil, &Error{Kind: KindPermanent, Source: feed.Name,
				Err: fmt.Errorf("read local feed: %w", err)}
		}
	} else {
		body, err = s.get(ctx, feed, feed.URL)
		if err != nil {
			return nil, err
		}
	}

	entries, err := jsonEntries(body)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Source: feed.Name, Err: err}
	}

	for _, drift := range s.schema.Observe(feed.Name, body) {
		s.log.Warn().Str("feed", feed.Name).Str("kind", string(drift.Kind)).
			Str("detail", drift.String()).Msg("feed schema drift")
	}

	batch := make([]jobs.Job, 0, len(entries))
	skipped := 0
	for i, entry := range entries {
		title := pickString(entry, jsonFieldKeys["title"])
		if title == "" {
			skipped++
			continue
		}
		company := pickString(entry, jsonFieldKeys["company"])
		if company == "" {
			company = feed.Name
		}
		jobURL := resolveRef(feed.URL, pickString(entry, jsonFieldKeys["url"]))
		location := pickString(entry, jsonFieldKeys["location"])

		job := jobs.Job{
			ID:          parser.StableID(pickString(entry, jsonFieldKeys["id"]), jobURL, title, company, i),
			Title:       title,
			Company:     company,
			URL:         jobURL,
			Source:      feed.Name,
			Location:    location,
			Salary:      pickString(entry, jsonFieldKeys["salary"]),
			JobType:     pickString(entry, jsonFieldKeys["job_type"]),
			Description: pickString(entry, jsonFieldKeys["description"]),
			IsRemote:    containsRemote(location + " " + title),
		}
		if raw := pickString(entry, jsonFieldKeys["date"]); raw != "" {
			job.PostedAtRaw = raw
			if t, ok := parseDate(raw); ok {
				job.PostedAt = t
			}
		}
		batch = append(batch, job)
	}
	if skipped > 0 {
		s.log.Warn().Str("feed", feed.Name).Int("skipped", skipped).
			Msg("entries without a title were skipped")
	}
	return parser.EnsureUniqueIDs(batch), nil
}

func (s *Static) fetchHTML(ctx context.Context, feed *config.Feed) ([]jobs.Job, error) {
	doc, err := s.getDocument(ctx, feed)
	if err != nil {
		return nil, err
	}

	if det := challenge.Detect(doc); det.Kind != challenge.KindNone {
		doc, err = s.mitigateStatic(ctx, feed, doc, det)
		if err != nil {
			return nil, err
		}
	}
	return s.registry.Parse(doc, feed), nil
}

// mitigateStatic handles a challenge met on the static path: solvable
// interstitials get one otto pass and one retry with the seeded cookie;
// everything else quarantines the source.
func (s *Static) mitigateStatic(ctx context.Context, feed *config.Feed, doc *goquery.Document, det challenge.Detection) (*goquery.Document, error) {
	quarantine := &Error{Kind: KindChallenge, Source: feed.Name,
		Err: fmt.Errorf("challenge not cleared: %s (%s)", det.Kind, det.Signal)}

	if challenge.Mitigate(det, false) != challenge.ActionSolveInline {
		return nil, quarantine
	}

	cookie, err := challenge.SolveInterstitial(doc, feed.URL, s.profile.UserAgent)
	if err != nil {
		s.log.Warn().Str("feed", feed.Name).Err(err).Msg("interstitial solve failed")
		return nil, quarantine
	}
	if err := s.installCookies(feed, cookie); err != nil {
		s.log.Warn().Str("feed", feed.Name).Err(err).Msg("challenge cookie rejected")
		return nil, quarantine
	}
	s.log.Info().Str("feed", feed.Name).Msg("interstitial solved, retrying")

	retryDoc, err := s.getDocument(ctx, feed)
	if err != nil {
		return nil, err
	}
	if det := challenge.Detect(retryDoc); det.Kind != challenge.KindNone {
		return nil, &Error{Kind: KindChallenge, Source: feed.Name,
			Err: fmt.Errorf("challenge persisted after solve: %s (%s)", det.Kind, det.Signal)}
	}
	return retryDoc, nil
}

func (s *Static) getDocument(ctx context.Context, feed *config.Feed) (*goquery.Document, error) {
	body, err := s.get(ctx, feed, feed.URL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Source: feed.Name,
			Err: fmt.Errorf("parse html: %w", err)}
	}
	return doc, nil
}

// get performs one GET with the feed's client, returning the body or a
// kind-classified error.
func (s *Static) get(ctx context.Context, feed *config.Feed, rawURL string) ([]byte, error) {
	cl, err := s.clientFor(feed)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Source: feed.Name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Source: feed.Name,
			Err: fmt.Errorf("build request: %w", err)}
	}

	headers := make(map[string]string, len(feed.Headers))
	for k, v := range feed.Headers {
		headers[k] = v
	}
	s.profile.ApplyHeaders(headers)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for name, value := range feed.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := cl.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Source: feed.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:   classifyStatus(resp.StatusCode),
			Source: feed.Name,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Source: feed.Name,
			Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// clientFor returns the feed's dedicated HTTP client, creating it on first
// use with the next proxy from the pool.
func (s *Static) clientFor(feed *config.Feed) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.clients[feed.Name]; ok {
		return cl, nil
	}

	var proxyURL string
	if s.proxies != nil {
		proxyURL = s.proxies.Next()
	}
	cl, err := client.New(client.Options{
		Profile: s.profile,
		Proxy:   proxyURL,
		Timeout: s.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build client for %s: %w", feed.Name, err)
	}
	s.clients[feed.Name] = cl
	return cl, nil
}

// installCookies writes a solved challenge cookie string ("a=1; b=2") into
// the feed client's jar so the retry carries it.
func (s *Static) installCookies(feed *config.Feed, cookieStr string) error {
	cl, err := s.clientFor(feed)
	if err != nil {
		return err
	}
	u, err := url.Parse(feed.URL)
	if err != nil {
		return fmt.Errorf("parse feed url: %w", err)
	}

	var cookies []*http.Cookie
	for _, pair := range strings.Split(cookieStr, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	if len(cookies) == 0 {
		return fmt.Errorf("no cookies in %q", cookieStr)
	}
	cl.Jar.SetCookies(u, cookies)
	return nil
}

// localPath reports whether rawURL names a local file rather than an HTTP
// endpoint.
func localPath(rawURL string) (string, bool) {
	if strings.HasPrefix(rawURL, "file://") {
		return strings.TrimPrefix(rawURL, "file://"), true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return rawURL, true
	}
	return "", false
}

// jsonEntries locates the entry array in a JSON payload: a top-level array,
// or the first wrapper key holding one.
func jsonEntries(body []byte) ([]map[string]any, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range jsonWrapperKeys {
			if arr, ok := v[key].([]any); ok {
				list = arr
				break
			}
		}
		if list == nil {
			return nil, fmt.Errorf("no entry array at any of %v", jsonWrapperKeys)
		}
	default:
		return nil, fmt.Errorf("payload is %T, want array or object", raw)
	}

	entries := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			entries = append(entries, obj)
		}
	}
	return entries, nil
}

// pickString returns the first non-empty string-convertible value among
// keys.  Numbers are rendered without a trailing ".0" so numeric IDs stay
// usable as IDs.
func pickString(entry map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := entry[key].(type) {
		case string:
			if t := strings.TrimSpace(v); t != "" {
				return t
			}
		case float64:
			if v == float64(int64(v)) {
				return fmt.Sprintf("%d", int64(v))
			}
			return fmt.Sprintf("%g", v)
		}
	}
	return ""
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveRef resolves ref against base's scheme and host.  Unparseable or
// empty refs come back unchanged.
func resolveRef(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func containsRemote(s string) bool {
	return strings.Contains(strings.ToLower(s), "remote")
}
