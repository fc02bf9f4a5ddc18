package queue

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseLost is returned by Delete when the receipt no longer matches,
// typically because the visibility deadline passed and the message was
// leased again.
var ErrLeaseLost = errors.New("lease lost")

// Handle identifies one lease of a message.
type Handle struct {
	MessageID string
	Receipt   string
}

type Message struct {
	Payload      string
	Handle       Handle
	DequeueCount int64
	VisibleUntil time.Time
}

type EnqueueOptions struct {
	// TTL bounds how long the message may wait in the queue. Zero means the backend default.
	TTL time.Duration
	// InitialVisibilityDelay hides the message from consumers for a while after enqueue.
	InitialVisibilityDelay time.Duration
}

// Backend is a durable queue with lease semantics. A leased message that is
// not deleted before its visibility timeout elapses is delivered again.
type Backend interface {
	Enqueue(ctx context.Context, payload string, opts EnqueueOptions) error
	Lease(ctx context.Context, batchSize int, visibilityTimeout time.Duration) ([]Message, error)
	Delete(ctx context.Context, h Handle) error
}
