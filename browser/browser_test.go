package browser_test

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/dkoval/jobsift/browser"
	"github.com/dkoval/jobsift/logger"
)

func TestDomainKey(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://jobs.example.com/listings", "example.com"},
		{"https://boards.greenhouse.io/acme", "greenhouse.io"},
		{"https://careers.shop.example.co.uk/", "example.co.uk"},
		{"not a url", "not a url"},
	}
	for _, c := range cases {
		if got := browser.DomainKey(c.url); got != c.want {
			t.Errorf("DomainKey(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestCookieStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := browser.NewCookieStore(dir, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}

	future := float64(time.Now().Add(24 * time.Hour).Unix())
	saved := []*proto.NetworkCookie{
		{Name: "clearance", Value: "tok-1", Domain: ".example.com", Path: "/", Expires: proto.TimeSinceEpoch(future), Secure: true},
		{Name: "sess", Value: "abc", Domain: "jobs.example.com", Path: "/listings", HTTPOnly: true},
	}
	if err := store.Save("example.com", saved); err != nil {
		t.Fatal(err)
	}
	store.Close() // drains the writer

	reopened, err := browser.NewCookieStore(dir, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load("example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d cookies, want 2", len(loaded))
	}
	if loaded[0].Name != "clearance" || loaded[0].Value != "tok-1" || loaded[0].Domain != ".example.com" {
		t.Errorf("first cookie mangled: %+v", loaded[0])
	}
	if !loaded[0].Secure || !loaded[1].HTTPOnly {
		t.Error("cookie flags lost in round trip")
	}
	if loaded[1].Path != "/listings" {
		t.Errorf("path mangled: %q", loaded[1].Path)
	}
}

func TestCookieStore_DropsExpired(t *testing.T) {
	dir := t.TempDir()
	store, err := browser.NewCookieStore(dir, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	past := float64(time.Now().Add(-time.Hour).Unix())
	future := float64(time.Now().Add(time.Hour).Unix())
	err = store.Save("example.com", []*proto.NetworkCookie{
		{Name: "stale", Value: "x", Domain: ".example.com", Expires: proto.TimeSinceEpoch(past)},
		{Name: "fresh", Value: "y", Domain: ".example.com", Expires: proto.TimeSinceEpoch(future)},
		{Name: "session", Value: "z", Domain: ".example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := browser.NewCookieStore(dir, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	loaded, err := reopened.Load("example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d cookies, want 2 (expired dropped, session kept)", len(loaded))
	}
	for _, c := range loaded {
		if c.Name == "stale" {
			t.Error("expired cookie survived the round trip")
		}
	}
}

func TestCookieStore_SaveAfterCloseErrors(t *testing.T) {
	store, err := browser.NewCookieStore(t.TempDir(), logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	store.Close()
	if err := store.Save("example.com", nil); err == nil {
		t.Fatal("expected error saving to a closed store")
	}
}

func TestCookieStore_ConcurrentSaveDuringClose(t *testing.T) {
	// Saves racing Close must degrade to errors, never panic.  Repeat with a
	// fresh store each time so Close lands at varying points in the Save path.
	cookies := []*proto.NetworkCookie{
		{Name: "sess", Value: "abc", Domain: ".example.com", Path: "/"},
	}
	for i := 0; i < 25; i++ {
		store, err := browser.NewCookieStore(t.TempDir(), logger.Nop())
		if err != nil {
			t.Fatal(err)
		}

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					store.Save("example.com", cookies)
				}
			}()
		}

		time.Sleep(time.Duration(i) * 100 * time.Microsecond)
		store.Close()
		close(stop)
		wg.Wait()

		if err := store.Save("example.com", cookies); err == nil {
			t.Fatal("expected error saving after close")
		}
	}
}

func TestMouseTrace_Shape(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	trace := browser.MouseTrace(rng, 1920, 1080)

	if len(trace) < 18 || len(trace) > 45 {
		t.Fatalf("trace has %d points, want 18..45", len(trace))
	}

	var total time.Duration
	delays := map[time.Duration]bool{}
	for i, pt := range trace {
		if pt.X < -1920 || pt.X > 2*1920 || pt.Y < -1080 || pt.Y > 2*1080 {
			t.Errorf("point %d far off-viewport: (%v, %v)", i, pt.X, pt.Y)
		}
		if pt.Delay < 4*time.Millisecond {
			t.Errorf("point %d delay %v below sampling floor", i, pt.Delay)
		}
		total += pt.Delay
		delays[pt.Delay] = true
	}
	if total > 3*time.Second {
		t.Errorf("trace replay takes %v, exceeds gesture budget", total)
	}
	// Constant-velocity replay is the signature being avoided; pacing must
	// vary across the gesture.
	if len(delays) < 3 {
		t.Errorf("only %d distinct inter-sample delays; pacing looks robotic", len(delays))
	}
}

func TestMouseTrace_DeterministicPerSeed(t *testing.T) {
	a := browser.MouseTrace(rand.New(rand.NewSource(42)), 1366, 768)
	b := browser.MouseTrace(rand.New(rand.NewSource(42)), 1366, 768)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("point %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	c := browser.MouseTrace(rand.New(rand.NewSource(43)), 1366, 768)
	same := len(a) == len(c)
	if same {
		for i := range a {
			if a[i] != c[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("different seeds produced identical traces")
	}
}
