package dispatcher

import (
	"context"
	"time"

	"cmdflow/internal/domain"
	"cmdflow/internal/queue"
	"cmdflow/internal/serializer"
)

// Dispatcher hands commands over for background execution. Implementations
// are safe for concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd domain.Command) error
}

type Func func(ctx context.Context, cmd domain.Command) error

func (f Func) Dispatch(ctx context.Context, cmd domain.Command) error { return f(ctx, cmd) }

type Middleware func(Dispatcher) Dispatcher

// Chain wraps d with mws. The first middleware is the outermost.
func Chain(d Dispatcher, mws ...Middleware) Dispatcher {
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](d)
	}
	return d
}

// NewMemory dispatches into an in-process queue.
func NewMemory(q *queue.Memory) Dispatcher {
	return Func(func(ctx context.Context, cmd domain.Command) error {
		if err := ctx.Err(); err != nil {
			return &domain.EnqueueError{Command: cmd, Err: err}
		}
		q.Enqueue(cmd)
		return nil
	})
}

type Durable struct {
	backend    queue.Backend
	serializer serializer.Serializer
	opts       queue.EnqueueOptions
}

type Option func(*Durable)

// WithTTL bounds how long a command may wait in the queue.
func WithTTL(ttl time.Duration) Option {
	return func(d *Durable) { d.opts.TTL = ttl }
}

func WithInitialVisibilityDelay(delay time.Duration) Option {
	return func(d *Durable) { d.opts.InitialVisibilityDelay = delay }
}

func NewDurable(backend queue.Backend, s serializer.Serializer, opts ...Option) *Durable {
	d := &Durable{backend: backend, serializer: s}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Durable) Dispatch(ctx context.Context, cmd domain.Command) error {
	payload, err := d.serializer.Serialize(cmd)
	if err != nil {
		return &domain.EnqueueError{Command: cmd, Err: err}
	}
	if err := d.backend.Enqueue(ctx, payload, d.opts); err != nil {
		return &domain.EnqueueError{Command: cmd, Err: err}
	}
	return nil
}
