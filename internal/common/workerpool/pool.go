// Package workerpool runs jobs on a bounded ants pool and tracks how many are
// still in flight so owners can wait for them before releasing resources.
package workerpool

import (
	"context"
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"
)

var (
	ErrPoolStopped  = errors.New("worker pool stopped")
	ErrPoolOverload = ants.ErrPoolOverload
)

type Option func(*options)

type options struct {
	nonblocking bool
}

// WithNonblocking makes Submit fail with ErrPoolOverload instead of waiting
// for a free worker.
func WithNonblocking() Option {
	return func(o *options) { o.nonblocking = true }
}

type Pool struct {
	pool *ants.Pool

	mu       sync.Mutex
	idle     *sync.Cond
	inFlight int
	stopped  bool
}

func New(size int, opts ...Option) (*Pool, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	p, err := ants.NewPool(size, ants.WithNonblocking(o.nonblocking))
	if err != nil {
		return nil, err
	}

	pool := &Pool{pool: p}
	pool.idle = sync.NewCond(&pool.mu)
	return pool, nil
}

// Submit schedules job. A job whose ctx is already done is skipped.
func (p *Pool) Submit(ctx context.Context, job func(ctx context.Context)) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.inFlight++
	p.mu.Unlock()

	err := p.pool.Submit(func() {
		defer p.done()

		select {
		case <-ctx.Done():
			return
		default:
		}

		job(ctx)
	})
	if err != nil {
		p.done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolStopped
		}
		return err
	}
	return nil
}

func (p *Pool) done() {
	p.mu.Lock()
	p.inFlight--
	if p.inFlight == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

// Wait blocks until no submitted job is running or queued.
func (p *Pool) Wait() {
	p.mu.Lock()
	for p.inFlight > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Stop rejects new jobs, waits for in-flight ones and releases the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.Wait()
	p.pool.Release()
}

func (p *Pool) Workers() int {
	return p.pool.Cap()
}
