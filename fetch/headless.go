package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/dkoval/jobsift/browser"
	"github.com/dkoval/jobsift/challenge"
	"github.com/dkoval/jobsift/config"
	"github.com/dkoval/jobsift/fingerprint"
	"github.com/dkoval/jobsift/jobs"
	"github.com/dkoval/jobsift/parser"
)

const (
	// networkIdleWindow is how long the network must stay quiet before the
	// first navigation attempt is considered settled.
	networkIdleWindow = 2 * time.Second

	// idleWaitBudget bounds the network-idle wait; SPA boards with polling
	// never go fully idle, and the DOM-stable fallback covers them.
	idleWaitBudget = 15 * time.Second

	// interstitialWait and interstitialRecheck are the mitigation pauses:
	// Cloudflare-style interstitials usually clear within the first window,
	// stubborn ones get one longer wait before the source is quarantined.
	interstitialWait    = 10 * time.Second
	interstitialRecheck = 15 * time.Second
)

// continueButtonPattern matches the text of generic challenge pass-through
// buttons worth one click.
const continueButtonPattern = `(?i)^\s*(continue|proceed|verify|submit)\s*$`

// loadMorePattern matches visible pagination controls worth one click before
// extraction.
const loadMorePattern = `(?i)(load more|show more|more jobs|view more)`

// Headless fetches sources that only render their listings in a real
// browser.  One fetch is: acquire the domain's pooled context, navigate and
// settle, clear or report any challenge, act briefly like a person, expand
// pagination once, then hand the final DOM to the parser registry.
type Headless struct {
	pool     *browser.Pool
	registry *parser.Registry
	profile  *fingerprint.Profile
	timeout  time.Duration
	log      zerolog.Logger
}

// NewHeadless builds the headless fetcher on top of an existing pool.
func NewHeadless(cfg *config.Config, pool *browser.Pool, registry *parser.Registry, profile *fingerprint.Profile, log zerolog.Logger) *Headless {
	if profile == nil {
		profile = fingerprint.Chrome()
	}
	return &Headless{
		pool:     pool,
		registry: registry,
		profile:  profile,
		timeout:  cfg.HeadlessTimeout,
		log:      log.With().Str("component", "fetch.headless").Logger(),
	}
}

// Fetch runs one headless fetch for feed.  The page stays open between runs
// (the pool owns it); only the DOM is reset afterwards.
func (h *Headless) Fetch(ctx context.Context, feed *config.Feed) ([]jobs.Job, error) {
	page, err := h.pool.Acquire(ctx, feed.URL)
	if err != nil {
		return nil, h.wrapAcquire(feed, err)
	}
	defer page.Release()

	// Reset the DOM before the pool reuses the context, win or lose.  The
	// session (cookies, storage) survives navigation.
	defer func() { _ = page.Navigate("about:blank") }()

	if err := h.navigate(ctx, page.Page, feed.URL); err != nil {
		return nil, &Error{Kind: KindTransient, Source: feed.Name,
			Err: fmt.Errorf("navigate: %w", err)}
	}

	doc, err := h.snapshot(page.Page)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Source: feed.Name, Err: err}
	}
	if det := challenge.Detect(doc); det.Kind != challenge.KindNone {
		doc, err = h.mitigate(ctx, page.Page, feed, det)
		if err != nil {
			return nil, err
		}
	}

	browser.Humanize(ctx, page.Page, h.profile)
	h.expandListings(page.Page)

	doc, err = h.snapshot(page.Page)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Source: feed.Name, Err: err}
	}
	return h.registry.Parse(doc, feed), nil
}

// wrapAcquire classifies pool acquisition failures: cancellation and lock
// contention retry, a browser that cannot start is fatal for the whole run.
func (h *Headless) wrapAcquire(feed *config.Feed, err error) error {
	kind := KindTransient
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, browser.ErrPoolClosed) || strings.Contains(err.Error(), "launch") ||
			strings.Contains(err.Error(), "connect") {
			kind = KindFatal
		}
	}
	return &Error{Kind: kind, Source: feed.Name, Err: fmt.Errorf("acquire context: %w", err)}
}

// navigate loads rawURL waiting for network idle, falling back to one
// DOM-stable attempt when the page never quiets down.  A deadline on ctx
// (the orchestrator sets one per site class) takes precedence over the
// configured default timeout.
func (h *Headless) navigate(ctx context.Context, page *rod.Page, rawURL string) error {
	p := page.Context(ctx)
	if _, ok := ctx.Deadline(); !ok {
		p = p.Timeout(h.timeout)
	}
	if err := p.Navigate(rawURL); err != nil {
		return err
	}

	waitIdle := p.Timeout(idleWaitBudget).WaitRequestIdle(networkIdleWindow, nil, nil, nil)
	if err := rod.Try(waitIdle); err == nil {
		return nil
	}

	h.log.Debug().Str("url", rawURL).Msg("network never idled, falling back to DOM-stable wait")
	return p.WaitDOMStable(300*time.Millisecond, 0.1)
}

// mitigate applies the headless challenge policy: wait for the interstitial
// to clear, try one generic continue button, wait once more, then give up
// and quarantine.
func (h *Headless) mitigate(ctx context.Context, page *rod.Page, feed *config.Feed, det challenge.Detection) (*goquery.Document, error) {
	quarantine := &Error{Kind: KindChallenge, Source: feed.Name,
		Err: fmt.Errorf("challenge not cleared: %s (%s)", det.Kind, det.Signal)}

	if challenge.Mitigate(det, true) != challenge.ActionRetryHeadless {
		return nil, quarantine
	}
	h.log.Info().Str("feed", feed.Name).Str("signal", det.Signal).Msg("interstitial detected, waiting it out")

	if doc, cleared := h.recheckAfter(ctx, page, interstitialWait); cleared {
		return doc, nil
	}

	if h.clickContinue(page) {
		if doc, cleared := h.recheckAfter(ctx, page, 2*time.Second); cleared {
			return doc, nil
		}
	}

	if doc, cleared := h.recheckAfter(ctx, page, interstitialRecheck); cleared {
		return doc, nil
	}
	return nil, quarantine
}

// recheckAfter waits up to d (honouring ctx) and reports whether the
// challenge is gone, returning the fresh DOM when it is.
func (h *Headless) recheckAfter(ctx context.Context, page *rod.Page, d time.Duration) (*goquery.Document, bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, false
	}

	doc, err := h.snapshot(page)
	if err != nil {
		return nil, false
	}
	if challenge.Detect(doc).Kind != challenge.KindNone {
		return nil, false
	}
	return doc, true
}

// clickContinue clicks a generic challenge pass-through button when one is
// visible.  One click only; challenge pages that need more than that need a
// human.
func (h *Headless) clickContinue(page *rod.Page) bool {
	el, err := page.Timeout(2 * time.Second).ElementR("button, input[type=submit], a", continueButtonPattern)
	if err != nil {
		return false
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false
	}
	h.log.Debug().Msg("clicked challenge continue button")
	return true
}

// expandListings clicks a visible load-more control once and lets the DOM
// settle.  Best-effort; most boards simply do not have one.
func (h *Headless) expandListings(page *rod.Page) {
	el, err := page.Timeout(1500 * time.Millisecond).ElementR("button, a", loadMorePattern)
	if err != nil {
		return
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return
	}
	_ = page.Timeout(5 * time.Second).WaitDOMStable(300*time.Millisecond, 0.1)
	h.log.Debug().Msg("expanded listings via load-more control")
}

// snapshot captures the page's current DOM as a goquery document.
func (h *Headless) snapshot(page *rod.Page) (*goquery.Document, error) {
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("extract dom: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dom: %w", err)
	}
	return doc, nil
}
