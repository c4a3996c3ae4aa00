package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// saveTimeout bounds how long Save blocks when the writer goroutine is
// behind.  Losing one cookie snapshot is cheaper than stalling a fetch.
const saveTimeout = 1 * time.Second

// storedCookie is the on-disk cookie representation.  Only the fields needed
// to reconstruct a session survive; ephemeral CDP metadata does not.
type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// CookieStore persists browser cookies per registrable domain under
// dir/<domain>.json, so anti-bot clearance cookies earned in one run carry
// into the next and the interstitial is not re-solved every cycle.
//
// Writes go through a single goroutine: concurrent releases for the same
// domain must not interleave file writes, and serialising them is simpler
// than per-domain locking.
type CookieStore struct {
	dir    string
	log    zerolog.Logger
	saveCh chan saveJob
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

type saveJob struct {
	domain  string
	cookies []storedCookie
}

// NewCookieStore creates dir if needed and starts the writer goroutine.
func NewCookieStore(dir string, log zerolog.Logger) (*CookieStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("browser: create cookie dir %s: %w", dir, err)
	}
	s := &CookieStore{
		dir:    dir,
		log:    log.With().Str("component", "cookies").Logger(),
		saveCh: make(chan saveJob, 16),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *CookieStore) run() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.saveCh:
			if err := s.write(job); err != nil {
				s.log.Warn().Str("domain", job.domain).Err(err).Msg("cookie save failed")
			}
		case <-s.done:
			// Drain whatever was queued before the close, then exit.
			for {
				select {
				case job := <-s.saveCh:
					if err := s.write(job); err != nil {
						s.log.Warn().Str("domain", job.domain).Err(err).Msg("cookie save failed")
					}
				default:
					return
				}
			}
		}
	}
}

func (s *CookieStore) write(job saveJob) error {
	data, err := json.MarshalIndent(job.cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("browser: marshal cookies: %w", err)
	}
	path := s.path(job.domain)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("browser: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("browser: rename %s: %w", tmp, err)
	}
	return nil
}

// Save enqueues a cookie snapshot for domain.  It returns an error when the
// store is closed or the writer is backed up past saveTimeout; callers log
// and move on.
//
// The save channel itself is never closed; the done channel signals shutdown
// so a Save racing Close degrades to an error instead of a send on a closed
// channel.
func (s *CookieStore) Save(domain string, cookies []*proto.NetworkCookie) error {
	select {
	case <-s.done:
		return fmt.Errorf("browser: cookie store closed")
	default:
	}

	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		stored = append(stored, storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	select {
	case s.saveCh <- saveJob{domain: domain, cookies: stored}:
		return nil
	case <-s.done:
		return fmt.Errorf("browser: cookie store closed")
	case <-time.After(saveTimeout):
		return fmt.Errorf("browser: cookie save queue full for %s", domain)
	}
}

// Load reads the persisted cookies for domain, dropping entries that have
// expired.  A missing file is an empty session, not an error.
func (s *CookieStore) Load(domain string) ([]*proto.NetworkCookieParam, error) {
	data, err := os.ReadFile(s.path(domain))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("browser: read cookies for %s: %w", domain, err)
	}

	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("browser: decode cookies for %s: %w", domain, err)
	}

	now := float64(time.Now().Unix())
	params := make([]*proto.NetworkCookieParam, 0, len(stored))
	for _, c := range stored {
		if c.Expires > 0 && c.Expires < now {
			continue
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return params, nil
}

// Close drains pending saves and stops the writer.  Safe to call more than
// once and safe against concurrent Saves.
func (s *CookieStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *CookieStore) path(domain string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, domain)
	return filepath.Join(s.dir, safe+".json")
}
