package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdflow/internal/dispatcher"
	"cmdflow/internal/domain"
	"cmdflow/internal/queue"
	"cmdflow/internal/serializer"
)

type pingCommand struct {
	domain.Base
	Host string `json:"host"`
}

func (pingCommand) CommandType() string { return "ping" }

type recordingBackend struct {
	mu       sync.Mutex
	payloads []string
	opts     []queue.EnqueueOptions
	err      error
}

func (b *recordingBackend) Enqueue(_ context.Context, payload string, opts queue.EnqueueOptions) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	b.opts = append(b.opts, opts)
	return nil
}

func (b *recordingBackend) Lease(context.Context, int, time.Duration) ([]queue.Message, error) {
	return nil, nil
}

func (b *recordingBackend) Delete(context.Context, queue.Handle) error { return nil }

func newSerializer() *serializer.JSON {
	s := serializer.NewJSON()
	serializer.Register[pingCommand](s)
	return s
}

func TestDurableDispatch(t *testing.T) {
	t.Parallel()

	backend := &recordingBackend{}
	s := newSerializer()
	d := dispatcher.NewDurable(backend, s, dispatcher.WithTTL(time.Hour), dispatcher.WithInitialVisibilityDelay(time.Second))

	cmd := pingCommand{Base: domain.NewBase(), Host: "example.com"}
	require.NoError(t, d.Dispatch(context.Background(), cmd))

	require.Len(t, backend.payloads, 1)
	got, err := s.Deserialize(backend.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, cmd, got)
	assert.Equal(t, queue.EnqueueOptions{TTL: time.Hour, InitialVisibilityDelay: time.Second}, backend.opts[0])
}

func TestDurableDispatchErrors(t *testing.T) {
	t.Parallel()

	t.Run("transport failure", func(t *testing.T) {
		cause := errors.New("queue unavailable")
		d := dispatcher.NewDurable(&recordingBackend{err: cause}, newSerializer())
		cmd := pingCommand{Base: domain.NewBase()}

		err := d.Dispatch(context.Background(), cmd)
		var ee *domain.EnqueueError
		require.ErrorAs(t, err, &ee)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, cmd.ID, ee.Command.CommandID())
	})

	t.Run("serialization failure", func(t *testing.T) {
		d := dispatcher.NewDurable(&recordingBackend{}, newSerializer())
		err := d.Dispatch(context.Background(), nil)
		var ee *domain.EnqueueError
		require.ErrorAs(t, err, &ee)
	})
}

func TestMemoryDispatch(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	d := dispatcher.NewMemory(q)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Dispatch(context.Background(), pingCommand{Base: domain.NewBase()}))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Dispatch(ctx, pingCommand{Base: domain.NewBase()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 50, q.Len())
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var trail []string
	mw := func(name string) dispatcher.Middleware {
		return func(next dispatcher.Dispatcher) dispatcher.Dispatcher {
			return dispatcher.Func(func(ctx context.Context, cmd domain.Command) error {
				trail = append(trail, name)
				return next.Dispatch(ctx, cmd)
			})
		}
	}
	base := dispatcher.Func(func(context.Context, domain.Command) error {
		trail = append(trail, "queue")
		return nil
	})

	require.NoError(t, dispatcher.Chain(base, mw("outer"), mw("inner")).Dispatch(context.Background(), pingCommand{Base: domain.NewBase()}))
	assert.Equal(t, []string{"outer", "inner", "queue"}, trail)
}
