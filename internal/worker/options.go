package worker

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cmdflow/internal/domain"
	"cmdflow/internal/processor"
)

// ErrorHandler observes processing failures. cmd is nil when the message
// could not be decoded.
type ErrorHandler func(ctx context.Context, cmd domain.Command, err error)

// ProcessorFactory builds the processor used for a single message, so that
// handlers and their dependencies are never shared between messages.
type ProcessorFactory func() processor.Processor

type Options struct {
	DegreeOfParallelism int
	// MessagesBatchSize is how many messages one lease request asks for.
	MessagesBatchSize int
	PollingFrequency  time.Duration
	// NextPollingFrequency computes the wait after an empty poll from the previous one.
	NextPollingFrequency func(time.Duration) time.Duration
	MaxHandlerRuntime    time.Duration
	// HandlerCancellationGraceDelay is added to MaxHandlerRuntime to get the
	// visibility timeout of leased messages.
	HandlerCancellationGraceDelay time.Duration
	ErrorHandler                  ErrorHandler
	Logger                        *zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		DegreeOfParallelism:           runtime.NumCPU(),
		MessagesBatchSize:             runtime.NumCPU(),
		PollingFrequency:              time.Second,
		NextPollingFrequency:          DefaultNextPollingFrequency,
		MaxHandlerRuntime:             15 * time.Minute,
		HandlerCancellationGraceDelay: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DegreeOfParallelism <= 0 {
		o.DegreeOfParallelism = d.DegreeOfParallelism
	}
	if o.MessagesBatchSize <= 0 {
		o.MessagesBatchSize = d.MessagesBatchSize
	}
	if o.PollingFrequency <= 0 {
		o.PollingFrequency = d.PollingFrequency
	}
	if o.NextPollingFrequency == nil {
		o.NextPollingFrequency = d.NextPollingFrequency
	}
	if o.MaxHandlerRuntime <= 0 {
		o.MaxHandlerRuntime = d.MaxHandlerRuntime
	}
	if o.HandlerCancellationGraceDelay < 0 {
		o.HandlerCancellationGraceDelay = 0
	}
	if o.Logger == nil {
		l := log.Logger
		o.Logger = &l
	}
	return o
}

// VisibilityTimeout is how long a leased message stays hidden.
func (o Options) VisibilityTimeout() time.Duration {
	return o.MaxHandlerRuntime + o.HandlerCancellationGraceDelay
}
