package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// Azure Storage Queue rejects batches above 32 messages.
const azureMaxBatch = 32

type azureQueueClient interface {
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Azure is a Backend on top of an Azure Storage queue.
type Azure struct {
	client azureQueueClient
}

func NewAzure(connStr, queueName string) (*Azure, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &Azure{client: qc}, nil
}

func newAzureWithClient(c azureQueueClient) *Azure { return &Azure{client: c} }

// EnsureQueue creates the queue unless it already exists.
func (q *Azure) EnsureQueue(ctx context.Context) error {
	if _, err := q.client.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return fmt.Errorf("create queue: %w", err)
		}
	}
	return nil
}

func (q *Azure) Enqueue(ctx context.Context, payload string, opts EnqueueOptions) error {
	o := &azqueue.EnqueueMessageOptions{}
	if opts.TTL > 0 {
		o.TimeToLive = to.Ptr(seconds(opts.TTL))
	}
	if opts.InitialVisibilityDelay > 0 {
		o.VisibilityTimeout = to.Ptr(seconds(opts.InitialVisibilityDelay))
	}
	_, err := q.client.EnqueueMessage(ctx, payload, o)
	return err
}

func (q *Azure) Lease(ctx context.Context, batchSize int, visibilityTimeout time.Duration) ([]Message, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchSize > azureMaxBatch {
		batchSize = azureMaxBatch
	}
	resp, err := q.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(int32(batchSize)),
		VisibilityTimeout: to.Ptr(seconds(visibilityTimeout)),
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		msg := Message{Handle: Handle{MessageID: *m.MessageID, Receipt: *m.PopReceipt}}
		if m.MessageText != nil {
			msg.Payload = *m.MessageText
		}
		if m.DequeueCount != nil {
			msg.DequeueCount = *m.DequeueCount
		}
		if m.TimeNextVisible != nil {
			msg.VisibleUntil = *m.TimeNextVisible
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *Azure) Delete(ctx context.Context, h Handle) error {
	_, err := q.client.DeleteMessage(ctx, h.MessageID, h.Receipt, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return fmt.Errorf("%w: %s", ErrLeaseLost, respErr.ErrorCode)
		}
		return err
	}
	return nil
}

// seconds rounds d up to whole seconds, the resolution the service accepts.
func seconds(d time.Duration) int32 {
	s := math.Ceil(d.Seconds())
	if s > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(s)
}
