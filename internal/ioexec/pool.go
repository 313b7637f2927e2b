// Package ioexec provides the bounded worker pool that runs bytebin's
// background work: the durable save (index and backend write) behind each
// POST and UPDATE, and the housekeeping scans. Backend reads on GET, gzip
// and admin bulk deletes run on the request goroutine instead. No library
// in the retrieved example pack offers a generic
// bounded task executor (the pack's worker-pool-shaped code is either
// domain-specific, like aistore's download queue, or absent); this is
// therefore one of the few ambient concerns built directly on the standard
// library, following the common "buffered channel of jobs + fixed
// goroutines" idiom.
package ioexec

import (
	"context"
	"sync"
)

// Pool runs submitted functions on a fixed number of worker goroutines.
type Pool struct {
	jobs chan func(context.Context)
	wg   sync.WaitGroup
}

// New starts a Pool with the given number of workers (a non-positive size
// defaults to 16).
func New(size int) *Pool {
	if size <= 0 {
		size = 16
	}
	p := &Pool{jobs: make(chan func(context.Context), size*4)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job(context.Background())
	}
}

// Submit schedules fn to run on a worker goroutine and returns a channel
// that is closed once fn returns, letting callers await completion (the
// spec's "future") without blocking the caller of Submit itself.
func (p *Pool) Submit(fn func(context.Context)) <-chan struct{} {
	done := make(chan struct{})
	p.jobs <- func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	}
	return done
}

// Close stops accepting new work and waits for in-flight jobs to drain.
// The pool never cancels in-flight I/O; Close simply waits.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
