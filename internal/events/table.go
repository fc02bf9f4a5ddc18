package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"cmdflow/internal/domain"
	"cmdflow/internal/serializer"
)

type tableClient interface {
	CreateTable(ctx context.Context, o *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
	AddEntity(ctx context.Context, entity []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type eventEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	CommandType  string `json:"CommandType"`
	Command      string `json:"Command"`
	Status       string `json:"Status"`
	EventTime    string `json:"EventTime"`
	Error        string `json:"Error,omitempty"`
}

// Table stores events in an Azure table, one partition per command.
type Table struct {
	client     tableClient
	serializer serializer.Serializer
}

func NewTable(connStr, tableName string, s serializer.Serializer) (*Table, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Table{client: svc.NewClient(tableName), serializer: s}, nil
}

// EnsureTable creates the table unless it already exists.
func (t *Table) EnsureTable(ctx context.Context) error {
	if _, err := t.client.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (t *Table) Add(ctx context.Context, ev domain.Event) error {
	rec := encode(t.serializer, ev)
	ent := eventEntity{
		PartitionKey: rec.CommandID,
		// Row keys only need to be unique; ordering happens on read.
		RowKey:      fmt.Sprintf("%020d-%s", rec.Timestamp.UnixNano(), domain.NewID()[:8]),
		CommandType: rec.CommandType,
		Command:     rec.Command,
		Status:      rec.Status.String(),
		EventTime:   rec.Timestamp.Format(time.RFC3339Nano),
		Error:       rec.Err,
	}
	payload, err := sonic.ConfigStd.Marshal(ent)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = t.client.AddEntity(ctx, payload, nil)
	return err
}

func (t *Table) Latest(ctx context.Context, commandID string) (domain.Event, bool, error) {
	all, err := t.All(ctx, commandID)
	if err != nil || len(all) == 0 {
		return domain.Event{}, false, err
	}
	return all[0], true, nil
}

func (t *Table) All(ctx context.Context, commandID string) ([]domain.Event, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(commandID, "'", "''") + "'"
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []domain.Event
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent eventEntity
			if err := sonic.ConfigStd.Unmarshal(raw, &ent); err != nil {
				return nil, fmt.Errorf("decode event of %s: %w", commandID, err)
			}
			status, err := domain.ParseStatus(ent.Status)
			if err != nil {
				status = domain.StatusUnknown
			}
			ts, _ := time.Parse(time.RFC3339Nano, ent.EventTime)
			rec := stored{
				CommandID:   ent.PartitionKey,
				CommandType: ent.CommandType,
				Command:     ent.Command,
				Status:      status,
				Timestamp:   ts,
				Err:         ent.Error,
			}
			out = append(out, rec.decode(t.serializer))
		}
	}
	domain.SortEvents(out)
	return out, nil
}
