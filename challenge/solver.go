package challenge

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/robertkrimen/otto"
)

// Solver evaluates challenge JavaScript.  The concrete implementation runs
// in-process; swapping in a remote solver service only needs this interface.
type Solver interface {
	Eval(script string) (string, error)
}

// OttoSolver solves inline JavaScript interstitials with the otto pure-Go
// interpreter: no browser, no external process.  It handles the
// cookie-seeding class of challenges (the script computes a token and writes
// it to document.cookie); anything that needs a real DOM or worker threads
// is beyond it and escalates to the headless path instead.
//
// A mutex serialises access to the shared VM, so one solver may be used from
// several source goroutines.
type OttoSolver struct {
	vm *otto.Otto
	mu sync.Mutex
}

// NewOttoSolver builds a solver whose VM is seeded with the browser globals
// challenge scripts expect: window, document.cookie, navigator.userAgent and
// a location object derived from pageURL.  Scripts branch on all four.
func NewOttoSolver(userAgent, pageURL string) (*OttoSolver, error) {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; jobsift/1.0)"
	}
	host, href := "", ""
	if u, err := url.Parse(pageURL); err == nil {
		host = u.Hostname()
		href = u.String()
	}

	vm := otto.New()
	bootstrap := fmt.Sprintf(`
var window = this;
var document = { cookie: "", getElementById: function() { return null; } };
var navigator = { userAgent: %q };
var location = { href: %q, hostname: %q, protocol: "https:" };
window.location = location;
function setTimeout(fn) { if (typeof fn === "function") { fn(); } return 0; }
`, userAgent, href, host)
	if _, err := vm.Run(bootstrap); err != nil {
		return nil, fmt.Errorf("challenge: bootstrap JS globals: %w", err)
	}
	return &OttoSolver{vm: vm}, nil
}

// Eval executes script and returns the final expression value as a string.
func (s *OttoSolver) Eval(script string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, err := s.vm.Run(script)
	if err != nil {
		return "", fmt.Errorf("challenge: eval: %w", err)
	}
	result, err := val.ToString()
	if err != nil {
		return "", fmt.Errorf("challenge: convert result: %w", err)
	}
	return result, nil
}

// Cookie returns the current document.cookie value.  Cookie-seeding
// challenges leave their token here; the caller copies it into the source's
// HTTP cookie jar before retrying.
func (s *OttoSolver) Cookie() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.vm.Get("document")
	if err != nil {
		return "", fmt.Errorf("challenge: get document: %w", err)
	}
	cookie, err := doc.Object().Get("cookie")
	if err != nil {
		return "", fmt.Errorf("challenge: get document.cookie: %w", err)
	}
	return cookie.String(), nil
}

// SetCookie preloads document.cookie for challenges that check for an
// earlier token before issuing the next one.
func (s *OttoSolver) SetCookie(cookie string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.vm.Run(fmt.Sprintf("document.cookie = %q;", cookie)); err != nil {
		return fmt.Errorf("challenge: set document.cookie: %w", err)
	}
	return nil
}

// SolveInterstitial runs the inline scripts of a challenge page and returns
// the cookie string they seeded.
//
// Individual script failures are tolerated: holding pages ship analytics and
// DOM-dependent snippets alongside the actual challenge, and only the
// challenge script has to succeed.  An error is returned only when no script
// ran or no cookie was produced.
func SolveInterstitial(doc *goquery.Document, pageURL, userAgent string) (string, error) {
	solver, err := NewOttoSolver(userAgent, pageURL)
	if err != nil {
		return "", err
	}

	ran := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		script := strings.TrimSpace(s.Text())
		if script == "" {
			return
		}
		if _, err := solver.Eval(script); err == nil {
			ran++
		}
	})
	if ran == 0 {
		return "", fmt.Errorf("challenge: no inline script evaluated cleanly")
	}

	cookie, err := solver.Cookie()
	if err != nil {
		return "", err
	}
	if cookie == "" {
		return "", fmt.Errorf("challenge: scripts ran but seeded no cookie")
	}
	return cookie, nil
}
