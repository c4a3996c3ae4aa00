// Package worker provides a bounded goroutine pool for executing arbitrary
// jobs with controlled concurrency.
package worker

import (
	"context"
	"sync"
)

// Pool manages a fixed number of goroutines that drain a shared job queue.
// The orchestrator uses it to cap cross-source parallelism: each configured
// source becomes one job, and the pool size is max_concurrent_sources.
//
// Workers are started once and reused.  The queue buffers workerCount*4
// pending jobs before Submit starts blocking, a small burst buffer without
// unbounded growth.
type Pool struct {
	workerCount int
	jobQueue    chan func()
	wg          sync.WaitGroup
	startOnce   sync.Once
}

// New creates a Pool with workerCount goroutines ready to receive jobs.
func New(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		workerCount: workerCount,
		jobQueue:    make(chan func(), workerCount*4),
	}
}

// Start launches the worker goroutines.  Safe to call more than once; only
// the first call starts workers.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for job := range p.jobQueue {
					job()
				}
			}()
		}
	})
}

// Submit enqueues job, blocking for back-pressure when the buffer is full.
// ctx aborts the wait during shutdown; the job is dropped in that case.
// Submit must not be called after Stop.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop lets queued jobs finish and waits for every worker to exit.  No new
// jobs may be submitted afterwards.
func (p *Pool) Stop() {
	close(p.jobQueue)
	p.wg.Wait()
}
