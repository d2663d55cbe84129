// Package async provides a fixed-size worker pool with a bounded queue.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/finbrook/tradewire/errs"
	"github.com/finbrook/tradewire/internal/observability"
)

// Task is a unit of work run on a pool worker.
type Task func(context.Context) error

// Pool runs tasks on a fixed set of worker goroutines. When every worker is
// busy and the queue slot count is exhausted, Submit rejects instead of
// blocking the caller or growing the goroutine count.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan work
	wg     sync.WaitGroup
	once   sync.Once
}

type work struct {
	ctx context.Context
	fn  Task
}

// NewPool starts workers goroutines sharing a queue of the given depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("worker count must be positive"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel, queue: make(chan work, queue)}
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p, nil
}

// Submit hands fn to the pool. It never blocks: a closed pool or a full queue
// returns CodeUnavailable and the caller decides whether to retry.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("nil task"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.wg.Add(1)
	select {
	case <-p.ctx.Done():
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("submit on closed pool"))
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.queue <- work{ctx: ctx, fn: fn}:
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("queue full"))
	}
}

// Close rejects further submissions and signals the workers to drain.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
		close(p.queue)
	})
}

// Shutdown closes the pool and waits for accepted tasks to finish, giving up
// when ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) loop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case w, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(w)
			p.wg.Done()
		}
	}
}

// run isolates one task. A panic or error is logged and contained so the
// worker stays in rotation.
func (p *Pool) run(w work) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("pool task panicked", observability.F("panic", r))
		}
	}()
	ctx := w.ctx
	if ctx == nil {
		ctx = p.ctx
	}
	if err := w.fn(ctx); err != nil {
		observability.Log().Warn("pool task failed", observability.F("error", err))
	}
}
