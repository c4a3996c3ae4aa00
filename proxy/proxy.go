// Package proxy provides thread-safe egress proxy rotation for the fetch
// pipeline.
package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Environment variables recognised by FromEnv.
const (
	// EnvList is a comma-separated list of host:port entries.
	EnvList = "PROXY_LIST"

	// EnvListPath points to a newline-separated proxy file.
	EnvListPath = "PROXY_LIST_PATH"

	// EnvEnable forces proxy use even when the list is empty (the pool then
	// stays in auto-fetch mode and callers fall back to direct connections
	// until a list is supplied).
	EnvEnable = "ENABLE_PROXIES"

	// EnvUsername and EnvPassword carry optional auth applied to all
	// proxies.
	EnvUsername = "PROXY_USERNAME"
	EnvPassword = "PROXY_PASSWORD"
)

// probeURL is fetched through a candidate proxy to judge its health; any 2xx
// within the probe timeout counts as working.
const probeURL = "https://httpbin.org/status/200"

const probeTimeout = 10 * time.Second

// Pool holds an ordered list of proxy URLs and rotates through them with a
// cursor.
//
// Thread-safety: a sync.Mutex serialises cursor advancement, so Next may be
// called from any number of goroutines simultaneously without races.  The
// list itself is immutable after construction.
type Pool struct {
	proxies []string
	mu      sync.Mutex
	cursor  int

	// probe issues the health-check request; replaceable for tests.
	probe func(ctx context.Context, proxyURL string) error
}

// FromEnv builds a Pool from the environment: PROXY_LIST takes precedence
// over PROXY_LIST_PATH.  When neither is set the returned pool is disabled –
// every operation is a no-op and callers receive "" meaning a direct
// connection.  PROXY_USERNAME/PROXY_PASSWORD, when set, are folded into
// every entry's URL userinfo.
func FromEnv() (*Pool, error) {
	var entries []string
	if raw := os.Getenv(EnvList); raw != "" {
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				entries = append(entries, e)
			}
		}
	} else if path := os.Getenv(EnvListPath); path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		entries = loaded
	}
	return New(entries, os.Getenv(EnvUsername), os.Getenv(EnvPassword)), nil
}

// New creates a Pool over the given host:port entries, applying the optional
// shared credentials to each.  Entries already carrying a scheme are kept
// as-is; bare host:port entries get http://.
func New(entries []string, username, password string) *Pool {
	normalized := make([]string, 0, len(entries))
	for _, e := range entries {
		if !strings.Contains(e, "://") {
			e = "http://" + e
		}
		if username != "" {
			if u, err := url.Parse(e); err == nil && u.User == nil {
				u.User = url.UserPassword(username, password)
				e = u.String()
			}
		}
		normalized = append(normalized, e)
	}
	return &Pool{proxies: normalized, probe: defaultProbe}
}

// loadFile reads a newline-delimited proxy list.  Blank lines and lines
// beginning with '#' are ignored.
func loadFile(filename string) ([]string, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is an operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("proxy: open %q: %w", filename, err)
	}
	defer f.Close()

	var loaded []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		loaded = append(loaded, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("proxy: read %q: %w", filename, err)
	}
	return loaded, nil
}

// Enabled reports whether any proxies are configured.
func (p *Pool) Enabled() bool {
	return len(p.proxies) > 0
}

// Count returns the number of configured proxies.
func (p *Pool) Count() int {
	return len(p.proxies)
}

// Next returns the next proxy URL in round-robin order, wrapping at the end
// of the list.  Returns "" when the pool is disabled, signalling the caller
// to make a direct connection.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return ""
	}
	entry := p.proxies[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.proxies)
	return entry
}

// Test checks one proxy by fetching the probe URL through it.  Success is a
// 2xx response within the probe timeout.
func (p *Pool) Test(ctx context.Context, proxyURL string) error {
	return p.probe(ctx, proxyURL)
}

// Working rotates through up to maxAttempts proxies and returns the first
// that passes Test, or "" when none do (or the pool is disabled).
func (p *Pool) Working(ctx context.Context, maxAttempts int) string {
	if !p.Enabled() {
		return ""
	}
	if maxAttempts <= 0 || maxAttempts > len(p.proxies) {
		maxAttempts = len(p.proxies)
	}
	for i := 0; i < maxAttempts; i++ {
		candidate := p.Next()
		if err := p.Test(ctx, candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// SetProbe replaces the health-check function.  Tests only.
func (p *Pool) SetProbe(probe func(ctx context.Context, proxyURL string) error) {
	p.probe = probe
}

func defaultProbe(ctx context.Context, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("proxy: parse %q: %w", proxyURL, err)
	}
	client := &http.Client{
		Timeout:   probeTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
	if err != nil {
		return fmt.Errorf("proxy: build probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy: probe via %s: %w", parsed.Host, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("proxy: probe via %s: status %d", parsed.Host, resp.StatusCode)
	}
	return nil
}
