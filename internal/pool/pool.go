// Package pool provides named, bounded-concurrency worker pools. Tasks
// declare the pool they must run on; a limit-1 pool behaves as a serial
// queue for tools that are not parallel-safe.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/biocomp/phylopipe/internal/ctxlog"
)

// Pool is a single named execution context. Submissions queue in FIFO order
// and at most `workers` of them run concurrently. Submit never blocks the
// caller, and a failing submission never stops the pool from draining the
// rest of its queue.
type Pool struct {
	name    string
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	wg sync.WaitGroup
}

// New creates a pool with the given name and concurrency limit and starts
// its workers. Limits below one are a configuration bug and panic.
func New(ctx context.Context, name string, workers int) *Pool {
	if workers < 1 {
		panic(fmt.Sprintf("pool: %q created with concurrency %d", name, workers))
	}
	p := &Pool{name: name, workers: workers}
	p.cond = sync.NewCond(&p.mu)

	logger := ctxlog.FromContext(ctx).With("pool", name)
	logger.Debug("Starting pool workers.", "workers", workers)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Name returns the pool's registered name.
func (p *Pool) Name() string {
	return p.name
}

// Workers returns the pool's concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// Submit enqueues fn for execution and returns immediately. Order of
// execution follows order of submission within the pool. Submitting to a
// closed pool is an engine bug and panics.
func (p *Pool) Submit(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		panic(fmt.Sprintf("pool: submit on closed pool %q", p.name))
	}
	p.queue = append(p.queue, fn)
	p.cond.Signal()
}

// worker is the processing loop for one concurrency slot.
func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		fn()
	}
}

// Close drains the queue and stops the workers once every submitted
// function has run. It must not be called while submissions can still
// arrive.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
