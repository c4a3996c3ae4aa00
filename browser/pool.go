// Package browser manages the pool of headless browser contexts used by the
// rendered fetch path.
//
// One Chromium process serves every SPA and anti-bot-protected source; each
// registrable domain gets its own page (context) so cookies and local
// storage never mix across boards.  The pool caps live contexts and evicts
// the least recently used idle one when a new domain needs a slot, because
// each context costs real memory in the browser process.
//
// Lock discipline: the pool lock is a capacity-1 channel acquired with a
// short timeout and is never held across CDP or file I/O.  Everything slow
// happens against a reserved or removed entry after the lock is released.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/dkoval/jobsift/fingerprint"
)

const (
	// lockWait bounds pool-lock acquisition; a stuck lock means a bug, and
	// failing the fetch beats deadlocking the orchestrator.
	lockWait = 100 * time.Millisecond

	// busyRetry is the poll interval while a domain's context is in use or
	// the pool is full of busy contexts.
	busyRetry = 50 * time.Millisecond
)

// ErrPoolClosed is returned by Acquire after Shutdown has begun.
var ErrPoolClosed = fmt.Errorf("browser: pool closed")

// Config sizes and styles the pool.
type Config struct {
	// MaxContexts caps live browser contexts across all domains.
	MaxContexts int

	// Profile supplies the user agent, viewport, locale and timezone applied
	// to every new context.
	Profile *fingerprint.Profile

	// CookieDir is where per-domain cookie snapshots persist.
	CookieDir string

	// Proxy, when set, routes the whole browser process through a proxy.
	Proxy string
}

// Pool hands out per-domain browser pages.
type Pool struct {
	cfg     Config
	log     zerolog.Logger
	cookies *CookieStore

	lockCh  chan struct{}
	entries map[string]*contextEntry
	closed  bool

	launchMu sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

type contextEntry struct {
	page     *rod.Page
	busy     bool
	lastUsed time.Time
}

// Page is a leased browser context.  Callers must Release it when the fetch
// finishes, successful or not.
type Page struct {
	*rod.Page
	domain string
	pool   *Pool
}

// New builds a Pool.  The browser process launches lazily on the first
// Acquire, so configurations with no headless sources never pay for
// Chromium.
func New(cfg Config, log zerolog.Logger) (*Pool, error) {
	if cfg.MaxContexts <= 0 {
		cfg.MaxContexts = 3
	}
	if cfg.Profile == nil {
		cfg.Profile = fingerprint.Chrome()
	}
	cookies, err := NewCookieStore(cfg.CookieDir, log)
	if err != nil {
		return nil, err
	}
	return &Pool{
		cfg:     cfg,
		log:     log.With().Str("component", "browser").Logger(),
		cookies: cookies,
		lockCh:  make(chan struct{}, 1),
		entries: make(map[string]*contextEntry),
	}, nil
}

// DomainKey reduces a page URL to its registrable domain
// (jobs.foo.example.co.uk to example.co.uk), which keys contexts and cookie
// files.  Unparseable input is returned as-is so it still keys consistently.
func DomainKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	host := u.Hostname()
	if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld
	}
	return host
}

// Acquire leases the context for pageURL's domain, creating it (and evicting
// the LRU idle context if the pool is full) as needed.  It blocks while the
// domain's context is busy, up to ctx's deadline.
func (p *Pool) Acquire(ctx context.Context, pageURL string) (*Page, error) {
	domain := DomainKey(pageURL)
	if err := p.ensureBrowser(ctx); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := p.lock(ctx); err != nil {
			return nil, err
		}
		if p.closed {
			p.unlock()
			return nil, ErrPoolClosed
		}

		if e, ok := p.entries[domain]; ok {
			if e.busy {
				p.unlock()
				if err := sleepCtx(ctx, busyRetry); err != nil {
					return nil, err
				}
				continue
			}
			e.busy = true
			page := e.page
			p.unlock()
			return &Page{Page: page, domain: domain, pool: p}, nil
		}

		if len(p.entries) >= p.cfg.MaxContexts {
			victimDomain, victim := p.takeIdleLRU()
			p.unlock()
			if victim == nil {
				if err := sleepCtx(ctx, busyRetry); err != nil {
					return nil, err
				}
				continue
			}
			p.retire(victimDomain, victim)
			continue
		}

		// Reserve the slot so concurrent acquirers see the pool as full
		// while the page is being created.
		reservation := &contextEntry{busy: true, lastUsed: time.Now()}
		p.entries[domain] = reservation
		p.unlock()

		page, err := p.newPage(domain)
		if err != nil {
			p.dropEntry(domain)
			return nil, err
		}
		reservation.page = page
		return &Page{Page: page, domain: domain, pool: p}, nil
	}
}

// Release returns the context to the pool and snapshots its cookies.  Saving
// on every release, not just shutdown, means a crash loses at most one
// fetch's worth of session state.
func (pg *Page) Release() {
	if cookies, err := pg.Page.Cookies(nil); err == nil && len(cookies) > 0 {
		if err := pg.pool.cookies.Save(pg.domain, cookies); err != nil {
			pg.pool.log.Warn().Str("domain", pg.domain).Err(err).Msg("cookie snapshot dropped")
		}
	}
	pg.pool.markIdle(pg.domain)
}

// markIdle returns the domain's entry to the idle state.  Lock acquisition
// is bounded like everywhere else; on timeout the entry stays busy and the
// next Acquire for the domain keeps polling.
func (p *Pool) markIdle(domain string) {
	if !p.tryLock(lockWait) {
		p.log.Warn().Str("domain", domain).Msg("pool lock timeout on release")
		return
	}
	if e, ok := p.entries[domain]; ok {
		e.busy = false
		e.lastUsed = time.Now()
	}
	p.unlock()
}

// Humanize replays a synthetic mouse gesture and scroll on page, sized to
// the profile's viewport.  Best-effort and time-bounded.
func Humanize(ctx context.Context, page *rod.Page, profile *fingerprint.Profile) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	humanize(ctx, page, profile.ViewportWidth, profile.ViewportHeight, rng)
}

// Shutdown closes every context, the browser process and the cookie store.
// Bounded by ctx; callers pass a deadline of a few seconds.
func (p *Pool) Shutdown(ctx context.Context) error {
	select {
	case p.lockCh <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if p.closed {
		<-p.lockCh
		return nil
	}
	p.closed = true
	pages := make(map[string]*rod.Page, len(p.entries))
	for domain, e := range p.entries {
		if e.page != nil {
			pages[domain] = e.page
		}
	}
	p.entries = make(map[string]*contextEntry)
	<-p.lockCh

	p.launchMu.Lock()
	browser, l := p.browser, p.launcher
	p.browser, p.launcher = nil, nil
	p.launchMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		for domain, page := range pages {
			g.Go(func() error {
				p.retire(domain, page)
				return nil
			})
		}
		_ = g.Wait()
		if browser != nil {
			if err := browser.Close(); err != nil {
				p.log.Warn().Err(err).Msg("browser close failed")
			}
		}
		if l != nil {
			l.Cleanup()
		}
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn().Msg("browser shutdown deadline hit; abandoning process")
		err = ctx.Err()
	}
	p.cookies.Close()
	return err
}

func (p *Pool) ensureBrowser(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.launchMu.Lock()
	defer p.launchMu.Unlock()
	if p.browser != nil {
		return nil
	}

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("no-first-run")
	if p.cfg.Proxy != "" {
		l = l.Proxy(p.cfg.Proxy)
	}
	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("browser: launch: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("browser: connect: %w", err)
	}
	p.browser, p.launcher = b, l
	p.log.Info().Str("proxy", p.cfg.Proxy).Msg("browser launched")
	return nil
}

// newPage creates and styles a fresh context: stealth patches, identity
// overrides matching the fingerprint profile, and any persisted cookies.
func (p *Pool) newPage(domain string) (*rod.Page, error) {
	page, err := p.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("browser: create page for %s: %w", domain, err)
	}

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		p.log.Warn().Str("domain", domain).Err(err).Msg("stealth injection failed")
	}

	prof := p.cfg.Profile
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: prof.UserAgent}); err != nil {
		p.log.Warn().Str("domain", domain).Err(err).Msg("user agent override failed")
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             prof.ViewportWidth,
		Height:            prof.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		p.log.Warn().Str("domain", domain).Err(err).Msg("viewport override failed")
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: prof.Locale}).Call(page); err != nil {
		p.log.Debug().Str("domain", domain).Err(err).Msg("locale override failed")
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: prof.Timezone}).Call(page); err != nil {
		p.log.Debug().Str("domain", domain).Err(err).Msg("timezone override failed")
	}

	saved, err := p.cookies.Load(domain)
	if err != nil {
		p.log.Warn().Str("domain", domain).Err(err).Msg("persisted cookies unreadable")
	} else if len(saved) > 0 {
		if err := page.SetCookies(saved); err != nil {
			p.log.Warn().Str("domain", domain).Err(err).Msg("cookie restore failed")
		} else {
			p.log.Debug().Str("domain", domain).Int("count", len(saved)).Msg("session cookies restored")
		}
	}
	return page, nil
}

// retire saves a context's cookies and closes it.  Used for LRU eviction and
// shutdown.
func (p *Pool) retire(domain string, page *rod.Page) {
	if cookies, err := page.Cookies(nil); err == nil && len(cookies) > 0 {
		_ = p.cookies.Save(domain, cookies)
	}
	if err := page.Close(); err != nil {
		p.log.Warn().Str("domain", domain).Err(err).Msg("context close failed")
	} else {
		p.log.Debug().Str("domain", domain).Msg("context evicted")
	}
}

// takeIdleLRU removes and returns the least recently used idle entry.
// Caller holds the pool lock.
func (p *Pool) takeIdleLRU() (string, *rod.Page) {
	var (
		oldestDomain string
		oldest       *contextEntry
	)
	for domain, e := range p.entries {
		if e.busy || e.page == nil {
			continue
		}
		if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
			oldestDomain, oldest = domain, e
		}
	}
	if oldest == nil {
		return "", nil
	}
	delete(p.entries, oldestDomain)
	return oldestDomain, oldest.page
}

func (p *Pool) dropEntry(domain string) {
	if !p.tryLock(lockWait) {
		p.log.Warn().Str("domain", domain).Msg("pool lock timeout dropping reservation")
		return
	}
	delete(p.entries, domain)
	p.unlock()
}

func (p *Pool) lock(ctx context.Context) error {
	select {
	case p.lockCh <- struct{}{}:
		return nil
	case <-time.After(lockWait):
		return fmt.Errorf("browser: pool lock timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryLock acquires the pool lock within d, reporting success.
func (p *Pool) tryLock(d time.Duration) bool {
	select {
	case p.lockCh <- struct{}{}:
		return true
	case <-time.After(d):
		return false
	}
}

func (p *Pool) unlock() {
	<-p.lockCh
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
