package worker

import (
	"context"
	"time"

	"cmdflow/internal/queue"
	"cmdflow/internal/serializer"
)

const ackTimeout = 30 * time.Second

// Durable drains a lease-based queue. Messages are deleted only after their
// command was processed successfully; anything else becomes visible again
// once the lease expires.
type Durable struct {
	*executor
	lifecycle

	backend    queue.Backend
	serializer serializer.Serializer
	sleep      func(context.Context, time.Duration) bool
}

func NewDurable(backend queue.Backend, s serializer.Serializer, factory ProcessorFactory, opts Options) *Durable {
	return &Durable{
		executor:   newExecutor(opts, factory),
		backend:    backend,
		serializer: s,
		sleep:      sleep,
	}
}

func (w *Durable) Start(ctx context.Context) error { return w.start(ctx, w.Run) }

func (w *Durable) Stop(ctx context.Context) error { return w.stop(ctx) }

// Run polls until ctx is done, then waits for in-flight messages.
func (w *Durable) Run(ctx context.Context) error {
	visibility := w.opts.VisibilityTimeout()
	wait := w.opts.PollingFrequency
	w.log.Info().
		Int("parallelism", w.opts.DegreeOfParallelism).
		Int("batch", w.opts.MessagesBatchSize).
		Dur("visibility", visibility).
		Msg("durable worker started")
	defer w.log.Info().Msg("durable worker stopped")

	p := newPool(w.opts.DegreeOfParallelism)
	defer p.wait()

	for ctx.Err() == nil {
		msgs, err := w.backend.Lease(ctx, w.opts.MessagesBatchSize, visibility)
		if err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("lease failed")
		}
		if len(msgs) == 0 {
			if !w.sleep(ctx, wait) {
				break
			}
			wait = w.opts.NextPollingFrequency(wait)
			continue
		}
		wait = w.opts.PollingFrequency

		for _, m := range msgs {
			if err := p.submit(ctx, func() { w.handle(ctx, m) }); err != nil {
				// The rest of the batch reappears after its lease expires.
				return nil
			}
		}
	}
	return nil
}

func (w *Durable) handle(ctx context.Context, m queue.Message) {
	// Left unacked, the message is redelivered after its lease expires.
	if ctx.Err() != nil {
		return
	}
	cmd, err := w.serializer.Deserialize(m.Payload)
	if err != nil {
		w.log.Error().Err(err).Str("message_id", m.Handle.MessageID).Int64("dequeue_count", m.DequeueCount).Msg("undecodable message")
		w.fail(ctx, nil, err)
		return
	}
	if !w.execute(ctx, cmd) {
		return
	}

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := w.backend.Delete(ackCtx, m.Handle); err != nil {
		w.log.Warn().Err(err).Str("command_id", cmd.CommandID()).Msg("ack failed, message will be redelivered")
	}
}
