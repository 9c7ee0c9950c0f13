package runner

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed number of workers. A failing worker does not cancel
// the others.
type Pool struct {
	size   int
	active atomic.Int32
	group  errgroup.Group
	done   chan struct{}
	err    error
}

func NewPool(size int) *Pool {
	return &Pool{size: size, done: make(chan struct{})}
}

// Start launches size goroutines running fn with ids 1..size.
func (p *Pool) Start(ctx context.Context, fn func(ctx context.Context, id int) error) {
	for i := 1; i <= p.size; i++ {
		id := i
		p.active.Add(1)
		p.group.Go(func() error {
			defer p.active.Add(-1)
			return fn(ctx, id)
		})
	}

	go func() {
		p.err = p.group.Wait()
		close(p.done)
	}()
}

func (p *Pool) Size() int { return p.size }

// Active is the number of workers that have not returned yet.
func (p *Pool) Active() int { return int(p.active.Load()) }

func (p *Pool) Done() <-chan struct{} { return p.done }

// Wait blocks until every worker returned or timeout elapsed. It reports
// whether all workers finished.
func (p *Pool) Wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

// Err is the first worker error. Only valid after Done is closed.
func (p *Pool) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
