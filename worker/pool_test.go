package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dkoval/jobsift/worker"
)

func TestPool_RunsAllJobs(t *testing.T) {
	p := worker.New(4)
	p.Start()

	var done atomic.Int64
	for i := 0; i < 100; i++ {
		if err := p.Submit(context.Background(), func() { done.Add(1) }); err != nil {
			t.Fatal(err)
		}
	}
	p.Stop()
	if done.Load() != 100 {
		t.Errorf("ran %d jobs, want 100", done.Load())
	}
}

func TestPool_BoundsParallelism(t *testing.T) {
	const workers = 3
	p := worker.New(workers)
	p.Start()

	var (
		mu      sync.Mutex
		active  int
		highest int
	)
	for i := 0; i < 30; i++ {
		_ = p.Submit(context.Background(), func() {
			mu.Lock()
			active++
			if active > highest {
				highest = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	p.Stop()

	if highest > workers {
		t.Errorf("observed %d concurrent jobs, pool size is %d", highest, workers)
	}
}

func TestPool_SubmitHonoursCancellation(t *testing.T) {
	p := worker.New(1)
	// Not started: the queue fills and Submit must block, then abort.
	for i := 0; i < 4; i++ {
		_ = p.Submit(context.Background(), func() {})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Submit(ctx, func() {}); err == nil {
		t.Fatal("expected cancellation error from a full queue")
	}
}
