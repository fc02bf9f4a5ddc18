package processor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdflow/internal/domain"
	"cmdflow/internal/processor"
)

type greetCommand struct {
	domain.Base
	Name string `json:"name"`
}

func (greetCommand) CommandType() string { return "greet" }

type orphanCommand struct {
	domain.Base
}

func (*orphanCommand) CommandType() string { return "orphan" }

type countingHandler struct {
	calls *atomic.Int32
	err   error
}

func (h countingHandler) Handle(_ context.Context, _ greetCommand) error {
	h.calls.Add(1)
	return h.err
}

func TestRegistryProcessor(t *testing.T) {
	t.Parallel()

	t.Run("invokes the registered handler once", func(t *testing.T) {
		t.Parallel()
		reg := processor.NewRegistry()
		var calls atomic.Int32
		require.NoError(t, processor.Register(reg, func() processor.Handler[greetCommand] {
			return countingHandler{calls: &calls}
		}))

		err := reg.Processor().Process(context.Background(), greetCommand{Base: domain.NewBase(), Name: "ada"})
		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("builds a fresh handler per command", func(t *testing.T) {
		t.Parallel()
		reg := processor.NewRegistry()
		var built atomic.Int32
		var calls atomic.Int32
		require.NoError(t, processor.Register(reg, func() processor.Handler[greetCommand] {
			built.Add(1)
			return countingHandler{calls: &calls}
		}))

		p := reg.Processor()
		for i := 0; i < 3; i++ {
			require.NoError(t, p.Process(context.Background(), greetCommand{Base: domain.NewBase()}))
		}
		assert.Equal(t, int32(3), built.Load())
	})

	t.Run("missing handler names the runtime type", func(t *testing.T) {
		t.Parallel()
		reg := processor.NewRegistry()

		err := reg.Processor().Process(context.Background(), &orphanCommand{Base: domain.NewBase()})
		require.ErrorIs(t, err, domain.ErrHandlerNotFound)
		var nf *domain.HandlerNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Contains(t, err.Error(), "*processor_test.orphanCommand")
	})

	t.Run("handler errors are wrapped", func(t *testing.T) {
		t.Parallel()
		reg := processor.NewRegistry()
		cause := errors.New("boom")
		var calls atomic.Int32
		require.NoError(t, processor.Register(reg, func() processor.Handler[greetCommand] {
			return countingHandler{calls: &calls, err: cause}
		}))

		cmd := greetCommand{Base: domain.NewBase()}
		err := reg.Processor().Process(context.Background(), cmd)
		var pe *domain.ProcessingError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, cause, pe.Err)
		assert.Equal(t, cmd.ID, pe.Command.CommandID())
	})

	t.Run("core errors propagate unchanged", func(t *testing.T) {
		t.Parallel()
		reg := processor.NewRegistry()
		inner := &domain.HandlerNotFoundError{CommandType: "nested", GoType: "nested"}
		require.NoError(t, processor.RegisterFunc(reg, func(context.Context, greetCommand) error {
			return inner
		}))

		err := reg.Processor().Process(context.Background(), greetCommand{Base: domain.NewBase()})
		assert.Same(t, inner, err)
	})

	t.Run("panics become processing errors", func(t *testing.T) {
		t.Parallel()
		reg := processor.NewRegistry()
		require.NoError(t, processor.RegisterFunc(reg, func(context.Context, greetCommand) error {
			panic("kaboom")
		}))

		err := reg.Processor().Process(context.Background(), greetCommand{Base: domain.NewBase()})
		var pe *domain.ProcessingError
		require.ErrorAs(t, err, &pe)
		assert.Contains(t, pe.Err.Error(), "kaboom")
	})

	t.Run("pointer command types", func(t *testing.T) {
		t.Parallel()
		reg := processor.NewRegistry()
		var got string
		require.NoError(t, processor.RegisterFunc(reg, func(_ context.Context, cmd *orphanCommand) error {
			got = cmd.ID
			return nil
		}))

		cmd := &orphanCommand{Base: domain.NewBase()}
		require.NoError(t, reg.Processor().Process(context.Background(), cmd))
		assert.Equal(t, cmd.ID, got)
	})
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()

	reg := processor.NewRegistry()
	noop := func(context.Context, greetCommand) error { return nil }
	require.NoError(t, processor.RegisterFunc(reg, noop))
	require.Error(t, processor.RegisterFunc(reg, noop))
	assert.Equal(t, []string{"greet"}, reg.Types())
	assert.Panics(t, func() {
		processor.MustRegister(reg, func() processor.Handler[greetCommand] { return processor.HandlerFunc[greetCommand](noop) })
	})
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var trail []string
	mw := func(name string) processor.Middleware {
		return func(next processor.Processor) processor.Processor {
			return processor.ProcessorFunc(func(ctx context.Context, cmd domain.Command) error {
				trail = append(trail, name+">")
				err := next.Process(ctx, cmd)
				trail = append(trail, "<"+name)
				return err
			})
		}
	}
	base := processor.ProcessorFunc(func(context.Context, domain.Command) error {
		trail = append(trail, "handler")
		return nil
	})

	p := processor.Chain(base, mw("a"), mw("b"))
	require.NoError(t, p.Process(context.Background(), greetCommand{Base: domain.NewBase()}))
	assert.Equal(t, []string{"a>", "b>", "handler", "<b", "<a"}, trail)
}

func TestCountdown(t *testing.T) {
	t.Parallel()

	cd := processor.NewCountdown(2)
	p := processor.Chain(processor.ProcessorFunc(func(context.Context, domain.Command) error {
		return errors.New("fails still count")
	}), cd.Middleware())

	_ = p.Process(context.Background(), greetCommand{Base: domain.NewBase()})
	assert.False(t, cd.Wait(10*time.Millisecond))
	_ = p.Process(context.Background(), greetCommand{Base: domain.NewBase()})
	assert.True(t, cd.Wait(time.Second))
	_ = p.Process(context.Background(), greetCommand{Base: domain.NewBase()})
	assert.True(t, processor.NewCountdown(0).Wait(time.Second))
}
