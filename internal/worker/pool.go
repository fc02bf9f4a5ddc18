package worker

import (
	"context"
	"sync"
)

// pool runs work with bounded admission. Callers block in acquire while all
// slots are taken, which pushes back on whatever feeds the pool.
type pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func newPool(size int) *pool {
	if size <= 0 {
		size = 1
	}
	return &pool{sem: make(chan struct{}, size)}
}

// acquire fails once ctx is done, even when a slot is free.
func (p *pool) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) release() { <-p.sem }

// run executes fn on a slot obtained by acquire.
func (p *pool) run(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release()
		fn()
	}()
}

func (p *pool) submit(ctx context.Context, fn func()) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	p.run(fn)
	return nil
}

func (p *pool) wait() { p.wg.Wait() }
