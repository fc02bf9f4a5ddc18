package queue

import (
	"context"
	"sync"

	"cmdflow/internal/domain"
)

// Memory is an unbounded in-process FIFO of commands. Enqueue never blocks;
// consumers wait on a counting signal. Content is lost on restart.
type Memory struct {
	mu     sync.Mutex
	items  []domain.Command
	signal chan struct{}
}

func NewMemory() *Memory {
	return &Memory{signal: make(chan struct{}, 1)}
}

func (m *Memory) Enqueue(cmd domain.Command) {
	m.mu.Lock()
	m.items = append(m.items, cmd)
	m.mu.Unlock()
	m.notify()
}

// Dequeue removes and returns the oldest command, waiting for one if the
// queue is empty.
func (m *Memory) Dequeue(ctx context.Context) (domain.Command, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.mu.Lock()
		if len(m.items) > 0 {
			cmd := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			left := len(m.items)
			m.mu.Unlock()
			if left > 0 {
				m.notify()
			}
			return cmd, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.signal:
		}
	}
}

// Requeue puts cmd back at the head of the queue.
func (m *Memory) Requeue(cmd domain.Command) {
	m.mu.Lock()
	m.items = append([]domain.Command{cmd}, m.items...)
	m.mu.Unlock()
	m.notify()
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}
