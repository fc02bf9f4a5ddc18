package events

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"cmdflow/internal/domain"
)

// Memory keeps event histories in a bounded in-process cache. Histories
// expire ttl after their last write.
type Memory struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, []domain.Event]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{cache: expirable.NewLRU[string, []domain.Event](size, nil, ttl)}
}

func (m *Memory) Add(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history, _ := m.cache.Get(ev.CommandID)
	next := make([]domain.Event, 0, len(history)+1)
	next = append(next, history...)
	next = append(next, ev)
	m.cache.Add(ev.CommandID, next)
	return nil
}

func (m *Memory) Latest(ctx context.Context, commandID string) (domain.Event, bool, error) {
	all, err := m.All(ctx, commandID)
	if err != nil || len(all) == 0 {
		return domain.Event{}, false, err
	}
	return all[0], true, nil
}

func (m *Memory) All(_ context.Context, commandID string) ([]domain.Event, error) {
	m.mu.Lock()
	history, _ := m.cache.Get(commandID)
	out := append([]domain.Event(nil), history...)
	m.mu.Unlock()
	domain.SortEvents(out)
	return out, nil
}
