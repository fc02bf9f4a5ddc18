package events

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"cmdflow/internal/domain"
	"cmdflow/internal/serializer"
)

const redisKeyPrefix = "cmdflow:events:"

// Redis appends events to one list per command. Each access pushes the
// expiry of the list ttl into the future.
type Redis struct {
	client     redis.UniversalClient
	serializer serializer.Serializer
	ttl        time.Duration
}

func NewRedis(client redis.UniversalClient, s serializer.Serializer, ttl time.Duration) *Redis {
	return &Redis{client: client, serializer: s, ttl: ttl}
}

func (r *Redis) key(commandID string) string { return redisKeyPrefix + commandID }

func (r *Redis) Add(ctx context.Context, ev domain.Event) error {
	data, err := sonic.ConfigStd.MarshalToString(encode(r.serializer, ev))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := r.key(ev.CommandID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	return err
}

func (r *Redis) Latest(ctx context.Context, commandID string) (domain.Event, bool, error) {
	all, err := r.All(ctx, commandID)
	if err != nil || len(all) == 0 {
		return domain.Event{}, false, err
	}
	return all[0], true, nil
}

func (r *Redis) All(ctx context.Context, commandID string) ([]domain.Event, error) {
	key := r.key(commandID)
	raw, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && r.ttl > 0 {
		r.client.Expire(ctx, key, r.ttl)
	}
	out := make([]domain.Event, 0, len(raw))
	for _, item := range raw {
		var rec stored
		if err := sonic.ConfigStd.UnmarshalFromString(item, &rec); err != nil {
			return nil, fmt.Errorf("decode event of %s: %w", commandID, err)
		}
		out = append(out, rec.decode(r.serializer))
	}
	domain.SortEvents(out)
	return out, nil
}
