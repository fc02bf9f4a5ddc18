package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"cmdflow/internal/domain"
)

var (
	ErrAlreadyStarted = errors.New("worker already started")
	ErrNotStarted     = errors.New("worker not started")
)

type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	InFlight  int64 `json:"in_flight"`
}

// executor runs single commands under the per-handler deadline and reports
// their failures.
type executor struct {
	opts         Options
	newProcessor ProcessorFactory
	log          zerolog.Logger

	processed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

func newExecutor(opts Options, factory ProcessorFactory) *executor {
	opts = opts.withDefaults()
	return &executor{opts: opts, newProcessor: factory, log: *opts.Logger}
}

// execute reports whether cmd completed before its deadline and before
// shutdown, i.e. whether it may be acknowledged.
func (e *executor) execute(ctx context.Context, cmd domain.Command) bool {
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	runCtx, cancel := context.WithTimeout(ctx, e.opts.MaxHandlerRuntime)
	defer cancel()

	err := e.newProcessor().Process(runCtx, cmd)
	if err == nil {
		err = runCtx.Err()
	}
	if err != nil {
		e.fail(ctx, cmd, err)
		return false
	}
	e.processed.Add(1)
	return true
}

func (e *executor) fail(ctx context.Context, cmd domain.Command, err error) {
	e.failed.Add(1)
	ev := e.log.Error().Err(err)
	if cmd != nil {
		ev = ev.Str("command_id", cmd.CommandID()).Str("command_type", cmd.CommandType())
	}
	ev.Msg("command failed")

	if e.opts.ErrorHandler == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error().Str("panic", fmt.Sprint(rec)).Msg("error handler panicked")
		}
	}()
	e.opts.ErrorHandler(ctx, cmd, domain.Cause(err))
}

func (e *executor) Stats() Stats {
	return Stats{Processed: e.processed.Load(), Failed: e.failed.Load(), InFlight: e.inFlight.Load()}
}

// lifecycle turns a blocking Run into Start/Stop.
type lifecycle struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *lifecycle) start(ctx context.Context, run func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	go func() {
		defer close(done)
		_ = run(ctx)
	}()
	return nil
}

// stop cancels the run and waits for it to drain or for ctx to end.
func (l *lifecycle) stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
