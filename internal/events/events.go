package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cmdflow/internal/dispatcher"
	"cmdflow/internal/domain"
	"cmdflow/internal/processor"
)

// Repository stores the lifecycle events of commands. Implementations must
// accept concurrent Add calls.
type Repository interface {
	Add(ctx context.Context, ev domain.Event) error
	// Latest returns the most recent event of a command, newest first with
	// ties going to the more terminal status.
	Latest(ctx context.Context, commandID string) (domain.Event, bool, error)
	All(ctx context.Context, commandID string) ([]domain.Event, error)
}

type config struct {
	preDispatch bool
	log         zerolog.Logger
}

type Option func(*config)

// WithPreDispatch records Dispatching before the command is enqueued
// instead of Dispatched after it was.
func WithPreDispatch() Option {
	return func(c *config) { c.preDispatch = true }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.log = l }
}

func newConfig(opts []Option) config {
	c := config{log: log.Logger}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func record(ctx context.Context, repo Repository, c config, cmd domain.Command, status domain.Status, cause error) {
	if err := repo.Add(ctx, domain.NewEvent(cmd, status, cause)); err != nil {
		c.log.Warn().Err(err).
			Str("command_id", cmd.CommandID()).
			Stringer("status", status).
			Msg("recording command event failed")
	}
}

// Dispatching records the dispatch phase of every command.
func Dispatching(repo Repository, opts ...Option) dispatcher.Middleware {
	c := newConfig(opts)
	return func(next dispatcher.Dispatcher) dispatcher.Dispatcher {
		return dispatcher.Func(func(ctx context.Context, cmd domain.Command) error {
			if c.preDispatch {
				record(ctx, repo, c, cmd, domain.StatusDispatching, nil)
			}
			if err := next.Dispatch(ctx, cmd); err != nil {
				record(context.WithoutCancel(ctx), repo, c, cmd, domain.StatusError, domain.Cause(err))
				return err
			}
			if !c.preDispatch {
				record(ctx, repo, c, cmd, domain.StatusDispatched, nil)
			}
			return nil
		})
	}
}

// Processing records Processing, then Processed or Error.
func Processing(repo Repository, opts ...Option) processor.Middleware {
	c := newConfig(opts)
	return func(next processor.Processor) processor.Processor {
		return processor.ProcessorFunc(func(ctx context.Context, cmd domain.Command) error {
			record(ctx, repo, c, cmd, domain.StatusProcessing, nil)
			if err := next.Process(ctx, cmd); err != nil {
				record(context.WithoutCancel(ctx), repo, c, cmd, domain.StatusError, domain.Cause(err))
				return err
			}
			record(context.WithoutCancel(ctx), repo, c, cmd, domain.StatusProcessed, nil)
			return nil
		})
	}
}
