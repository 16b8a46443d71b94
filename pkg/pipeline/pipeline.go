// Package pipeline implements the per-connection request serializer:
// a strict FIFO queue over which exactly one job runs at a time,
// matching the wire's half-duplex nature. It also provides the
// single-shot Waiter used to correlate an inbound frame with the job
// awaiting it, and the bounded exponential-backoff retry policy jobs
// use internally.
package pipeline

import (
	"context"
	"sync"
)

// Result is what a job's future eventually resolves to.
type Result struct {
	Value any
	Err   error
}

// job is one unit of queued work.
type job struct {
	run      func(ctx context.Context) (any, error)
	ctx      context.Context
	cancel   context.CancelFunc
	resultCh chan Result
	done     chan struct{} // closed once resultCh has been sent to
}

// Future is returned by Enqueue. Wait blocks until the job completes,
// is canceled, or ctx is done.
type Future struct {
	job *job
}

// Wait blocks for the job's result or for ctx to finish, whichever
// comes first.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case r := <-f.job.resultCh:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel fails this job's future without affecting sibling jobs. If the
// job has already started running, cancellation only takes effect at
// its next context check; a job already past all such checks still
// completes normally and Cancel has no visible effect.
func (f *Future) Cancel() {
	f.job.cancel()
}

// Pipeline serializes jobs from possibly many concurrent callers onto a
// single logical worker, so that at most one job's wire operations are
// ever in flight at a time. Jobs run in strict enqueue order.
type Pipeline struct {
	mu     sync.Mutex
	queue  []*job
	notify chan struct{}
	stopCh chan struct{}
	stopped bool
}

// New starts a Pipeline's dispatcher goroutine. Call Close to stop it.
func New() *Pipeline {
	p := &Pipeline{
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	go p.dispatchLoop()
	return p
}

// Enqueue appends run to the back of the FIFO and returns immediately
// with a Future; run executes later, on the dispatcher goroutine, once
// every job ahead of it has completed.
func (p *Pipeline) Enqueue(run func(ctx context.Context) (any, error)) *Future {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		run:      run,
		ctx:      ctx,
		cancel:   cancel,
		resultCh: make(chan Result, 1),
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	p.queue = append(p.queue, j)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}

	return &Future{job: j}
}

// Len reports the number of jobs currently queued, not counting a job
// that is already running.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops the dispatcher once its queue is empty: jobs already
// queued still run, in order, before it exits; a job enqueued after
// Close may never run, and its future then never resolves.
// Connection is responsible for draining
// active_jobs to zero before calling Close, per the idle-close
// contract in §4.6 of the design.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.stopCh)
}

func (p *Pipeline) dispatchLoop() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			select {
			case <-p.notify:
				continue
			case <-p.stopCh:
				return
			}
		}
		j := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(j)
	}
}

func (p *Pipeline) run(j *job) {
	select {
	case <-j.ctx.Done():
		j.resultCh <- Result{Err: j.ctx.Err()}
		close(j.done)
		return
	default:
	}

	value, err := j.run(j.ctx)
	j.resultCh <- Result{Value: value, Err: err}
	close(j.done)
}
