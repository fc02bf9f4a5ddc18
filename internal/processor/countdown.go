package processor

import (
	"context"
	"sync"
	"time"

	"cmdflow/internal/domain"
)

// Countdown counts processed commands, successful or not, and lets callers
// wait until a number of them went through.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	done      chan struct{}
}

func NewCountdown(n int) *Countdown {
	c := &Countdown{remaining: n, done: make(chan struct{})}
	if n <= 0 {
		close(c.done)
	}
	return c
}

func (c *Countdown) signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining <= 0 {
		return
	}
	c.remaining--
	if c.remaining == 0 {
		close(c.done)
	}
}

// Wait reports whether the countdown reached zero before timeout.
func (c *Countdown) Wait(timeout time.Duration) bool {
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *Countdown) Middleware() Middleware {
	return func(next Processor) Processor {
		return ProcessorFunc(func(ctx context.Context, cmd domain.Command) error {
			defer c.signal()
			return next.Process(ctx, cmd)
		})
	}
}
