package worker

import (
	"context"

	"cmdflow/internal/queue"
)

// Memory drains an in-process queue. A failed command is reported and dropped.
type Memory struct {
	*executor
	lifecycle

	queue *queue.Memory
}

func NewMemory(q *queue.Memory, factory ProcessorFactory, opts Options) *Memory {
	return &Memory{executor: newExecutor(opts, factory), queue: q}
}

func (w *Memory) Start(ctx context.Context) error { return w.start(ctx, w.Run) }

func (w *Memory) Stop(ctx context.Context) error { return w.stop(ctx) }

func (w *Memory) Run(ctx context.Context) error {
	w.log.Info().Int("parallelism", w.opts.DegreeOfParallelism).Msg("memory worker started")
	defer w.log.Info().Msg("memory worker stopped")

	p := newPool(w.opts.DegreeOfParallelism)
	defer p.wait()

	for {
		// Take a slot before dequeuing so shutdown never drops a dequeued command.
		if err := p.acquire(ctx); err != nil {
			return nil
		}
		cmd, err := w.queue.Dequeue(ctx)
		if err != nil {
			p.release()
			return nil
		}
		p.run(func() {
			// Shutdown won the race against this slot; keep the command queued.
			if ctx.Err() != nil {
				w.queue.Requeue(cmd)
				return
			}
			w.execute(ctx, cmd)
		})
	}
}
