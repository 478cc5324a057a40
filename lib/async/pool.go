// Package async provides bounded worker pool utilities.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantfabric/mmpolicy/errs"
)

// Task represents a unit of work executed by the pool workers.
type Task func(context.Context) error

// Pool is a bounded worker pool that applies backpressure when saturated and
// retains the first task error for inspection after shutdown.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once

	mu       sync.Mutex
	closed   bool
	firstErr error
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(chan job, queue),
		wg:       sync.WaitGroup{},
		once:     sync.Once{},
		mu:       sync.Mutex{},
		closed:   false,
		firstErr: nil,
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the task, blocking until a queue slot frees or either
// context is done.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.wg.Add(1)
	p.mu.Unlock()
	select {
	case <-p.ctx.Done():
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	}
}

// Shutdown waits for queued tasks to drain, then reports the first task
// error. When the context expires first, the pool closes immediately and
// tasks still queued are dropped without running.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		p.close()
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		p.close()
		return p.Err()
	}
}

// Err returns the first error any task reported, if any.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

// close marks the pool closed and releases the accounting for any job still
// queued. The jobs channel is never closed, so a Submit racing the shutdown
// unblocks through the pool context instead of panicking on a closed send.
func (p *Pool) close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cancel()
		for {
			select {
			case <-p.jobs:
				p.wg.Done()
			default:
				return
			}
		}
	})
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			ctx := job.ctx
			if ctx == nil {
				ctx = p.ctx
			}
			if err := job.fn(ctx); err != nil {
				p.mu.Lock()
				if p.firstErr == nil {
					p.firstErr = err
				}
				p.mu.Unlock()
			}
			p.wg.Done()
		}
	}
}
