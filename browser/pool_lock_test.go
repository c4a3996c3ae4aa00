package browser

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testPool(entries map[string]*contextEntry) *Pool {
	return &Pool{
		log:     zerolog.Nop(),
		lockCh:  make(chan struct{}, 1),
		entries: entries,
	}
}

func TestMarkIdle_BoundedWhileLockHeld(t *testing.T) {
	p := testPool(map[string]*contextEntry{
		"example.com": {busy: true},
	})

	p.lockCh <- struct{}{} // simulate another goroutine holding the lock
	start := time.Now()
	p.markIdle("example.com")
	if elapsed := time.Since(start); elapsed > 10*lockWait {
		t.Fatalf("markIdle blocked %v with the lock held, want ~%v bound", elapsed, lockWait)
	}
	if !p.entries["example.com"].busy {
		t.Error("entry flipped idle without holding the lock")
	}
	<-p.lockCh

	p.markIdle("example.com")
	e := p.entries["example.com"]
	if e.busy {
		t.Error("entry still busy after uncontended markIdle")
	}
	if e.lastUsed.IsZero() {
		t.Error("lastUsed not stamped on release")
	}
}

func TestDropEntry_BoundedWhileLockHeld(t *testing.T) {
	p := testPool(map[string]*contextEntry{
		"example.com": {busy: true},
	})

	p.lockCh <- struct{}{}
	start := time.Now()
	p.dropEntry("example.com")
	if elapsed := time.Since(start); elapsed > 10*lockWait {
		t.Fatalf("dropEntry blocked %v with the lock held, want ~%v bound", elapsed, lockWait)
	}
	if _, ok := p.entries["example.com"]; !ok {
		t.Error("entry removed without holding the lock")
	}
	<-p.lockCh

	p.dropEntry("example.com")
	if _, ok := p.entries["example.com"]; ok {
		t.Error("entry survived uncontended dropEntry")
	}
}
