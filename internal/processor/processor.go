package processor

import (
	"context"
	"fmt"

	"cmdflow/internal/domain"
)

// Processor resolves and invokes the handler of a command.
type Processor interface {
	Process(ctx context.Context, cmd domain.Command) error
}

type ProcessorFunc func(ctx context.Context, cmd domain.Command) error

func (f ProcessorFunc) Process(ctx context.Context, cmd domain.Command) error { return f(ctx, cmd) }

type Middleware func(Processor) Processor

// Chain wraps p with mws. The first middleware is the outermost.
func Chain(p Processor, mws ...Middleware) Processor {
	for i := len(mws) - 1; i >= 0; i-- {
		p = mws[i](p)
	}
	return p
}

// Processor returns a processor backed by the registry.
func (r *Registry) Processor() Processor {
	return ProcessorFunc(func(ctx context.Context, cmd domain.Command) error {
		if cmd == nil {
			return &domain.HandlerNotFoundError{CommandType: "", GoType: "<nil>"}
		}
		h, ok := r.lookup(cmd.CommandType())
		if !ok {
			return &domain.HandlerNotFoundError{CommandType: cmd.CommandType(), GoType: fmt.Sprintf("%T", cmd)}
		}
		if err := safeInvoke(ctx, h, cmd); err != nil {
			if domain.IsCoreError(err) {
				return err
			}
			return &domain.ProcessingError{Command: cmd, Err: err}
		}
		return nil
	})
}

func safeInvoke(ctx context.Context, h invoker, cmd domain.Command) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, cmd)
}
