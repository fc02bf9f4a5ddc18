package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdflow/internal/dispatcher"
	"cmdflow/internal/domain"
	"cmdflow/internal/events"
	"cmdflow/internal/processor"
	"cmdflow/internal/queue"
	"cmdflow/internal/worker"
)

type exportCommand struct {
	domain.Base
	Format string `json:"format"`
}

func (exportCommand) CommandType() string { return "export" }

type failingRepository struct{}

func (failingRepository) Add(context.Context, domain.Event) error { return errors.New("store down") }

func (failingRepository) Latest(context.Context, string) (domain.Event, bool, error) {
	return domain.Event{}, false, errors.New("store down")
}

func (failingRepository) All(context.Context, string) ([]domain.Event, error) {
	return nil, errors.New("store down")
}

func statuses(t *testing.T, repo events.Repository, id string) []domain.Status {
	t.Helper()
	all, err := repo.All(context.Background(), id)
	require.NoError(t, err)
	out := make([]domain.Status, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i].Status)
	}
	return out
}

func TestDispatchingRecordsAfterEnqueue(t *testing.T) {
	t.Parallel()

	repo := events.NewMemory(0, time.Hour)
	var seenAtEnqueue []domain.Status
	inner := dispatcher.Func(func(ctx context.Context, cmd domain.Command) error {
		seenAtEnqueue = statuses(t, repo, cmd.CommandID())
		return nil
	})
	d := dispatcher.Chain(inner, events.Dispatching(repo))

	cmd := exportCommand{Base: domain.NewBase(), Format: "csv"}
	require.NoError(t, d.Dispatch(context.Background(), cmd))

	assert.Empty(t, seenAtEnqueue)
	assert.Equal(t, []domain.Status{domain.StatusDispatched}, statuses(t, repo, cmd.ID))
}

func TestDispatchingPreDispatch(t *testing.T) {
	t.Parallel()

	repo := events.NewMemory(0, time.Hour)
	var seenAtEnqueue []domain.Status
	inner := dispatcher.Func(func(ctx context.Context, cmd domain.Command) error {
		seenAtEnqueue = statuses(t, repo, cmd.CommandID())
		return nil
	})
	d := dispatcher.Chain(inner, events.Dispatching(repo, events.WithPreDispatch()))

	cmd := exportCommand{Base: domain.NewBase()}
	require.NoError(t, d.Dispatch(context.Background(), cmd))

	assert.Equal(t, []domain.Status{domain.StatusDispatching}, seenAtEnqueue)
	assert.Equal(t, []domain.Status{domain.StatusDispatching}, statuses(t, repo, cmd.ID))
}

func TestDispatchingRecordsEnqueueFailure(t *testing.T) {
	t.Parallel()

	repo := events.NewMemory(0, time.Hour)
	cause := errors.New("queue full")
	d := dispatcher.Chain(dispatcher.Func(func(ctx context.Context, cmd domain.Command) error {
		return &domain.EnqueueError{Command: cmd, Err: cause}
	}), events.Dispatching(repo))

	cmd := exportCommand{Base: domain.NewBase()}
	err := d.Dispatch(context.Background(), cmd)
	require.ErrorIs(t, err, cause)

	ev, ok, err := repo.Latest(context.Background(), cmd.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusError, ev.Status)
	assert.Equal(t, "queue full", ev.Err)
}

func TestProcessingRecordsLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		repo := events.NewMemory(0, time.Hour)
		var during []domain.Status
		p := processor.Chain(processor.ProcessorFunc(func(ctx context.Context, cmd domain.Command) error {
			during = statuses(t, repo, cmd.CommandID())
			return nil
		}), events.Processing(repo))

		cmd := exportCommand{Base: domain.NewBase()}
		require.NoError(t, p.Process(context.Background(), cmd))
		assert.Equal(t, []domain.Status{domain.StatusProcessing}, during)
		assert.Equal(t, []domain.Status{domain.StatusProcessing, domain.StatusProcessed}, statuses(t, repo, cmd.ID))
	})

	t.Run("failure", func(t *testing.T) {
		repo := events.NewMemory(0, time.Hour)
		cmd := exportCommand{Base: domain.NewBase()}
		original := &domain.ProcessingError{Command: cmd, Err: errors.New("disk full")}
		p := processor.Chain(processor.ProcessorFunc(func(context.Context, domain.Command) error {
			return original
		}), events.Processing(repo))

		err := p.Process(context.Background(), cmd)
		assert.Same(t, original, err)
		assert.Equal(t, []domain.Status{domain.StatusProcessing, domain.StatusError}, statuses(t, repo, cmd.ID))
		ev, _, _ := repo.Latest(context.Background(), cmd.ID)
		assert.Equal(t, "disk full", ev.Err)
	})
}

func TestRepositoryFailuresDoNotChangeOutcome(t *testing.T) {
	t.Parallel()

	nop := zerolog.Nop()
	d := dispatcher.Chain(dispatcher.Func(func(context.Context, domain.Command) error { return nil }),
		events.Dispatching(failingRepository{}, events.WithLogger(nop)))
	assert.NoError(t, d.Dispatch(context.Background(), exportCommand{Base: domain.NewBase()}))

	p := processor.Chain(processor.ProcessorFunc(func(context.Context, domain.Command) error { return nil }),
		events.Processing(failingRepository{}, events.WithLogger(nop)))
	assert.NoError(t, p.Process(context.Background(), exportCommand{Base: domain.NewBase()}))
}

func TestPipelineEventTrail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		want    []domain.Status
		wantErr string
	}{
		{
			name: "success",
			want: []domain.Status{domain.StatusDispatched, domain.StatusProcessing, domain.StatusProcessed},
		},
		{
			name:    "failure",
			err:     errors.New("export failed"),
			want:    []domain.Status{domain.StatusDispatched, domain.StatusProcessing, domain.StatusError},
			wantErr: "export failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := events.NewMemory(0, time.Hour)
			q := queue.NewMemory()
			d := dispatcher.Chain(dispatcher.NewMemory(q), events.Dispatching(repo))

			reg := processor.NewRegistry()
			require.NoError(t, processor.RegisterFunc(reg, func(context.Context, exportCommand) error { return tt.err }))
			cd := processor.NewCountdown(1)
			nop := zerolog.Nop()
			w := worker.NewMemory(q, func() processor.Processor {
				return processor.Chain(reg.Processor(), cd.Middleware(), events.Processing(repo))
			}, worker.Options{DegreeOfParallelism: 2, Logger: &nop})

			cmd := exportCommand{Base: domain.NewBase()}
			require.NoError(t, d.Dispatch(context.Background(), cmd))
			require.NoError(t, w.Start(context.Background()))
			require.True(t, cd.Wait(5*time.Second))
			require.NoError(t, w.Stop(context.Background()))

			assert.Equal(t, tt.want, statuses(t, repo, cmd.ID))
			latest, ok, err := repo.Latest(context.Background(), cmd.ID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.wantErr, latest.Err)
			assert.Equal(t, cmd.ID, latest.Command.CommandID())
		})
	}
}

func TestConcurrentAdds(t *testing.T) {
	t.Parallel()

	repo := events.NewMemory(0, time.Hour)
	cmd := exportCommand{Base: domain.NewBase()}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Add(context.Background(), domain.NewEvent(cmd, domain.StatusProcessing, nil))
		}()
	}
	wg.Wait()
	all, err := repo.All(context.Background(), cmd.ID)
	require.NoError(t, err)
	assert.Len(t, all, 50)
}
