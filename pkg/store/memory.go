package store

import (
	"context"
	"sync"

	"regrun/pkg/model"
)

// MemoryStore 进程内实现，未配置 etcd 时使用
type MemoryStore struct {
	mu          sync.RWMutex
	cases       []model.TestCase
	subscribers map[chan CaseEvent]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subscribers: make(map[chan CaseEvent]struct{})}
}

func (m *MemoryStore) ReplaceCases(_ context.Context, cases []model.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.cases {
		m.publishLocked(CaseEvent{Type: CaseDelete, Index: i})
	}
	m.cases = make([]model.TestCase, len(cases))
	copy(m.cases, cases)
	for i := range m.cases {
		tc := m.cases[i]
		m.publishLocked(CaseEvent{Type: CaseUpdate, Index: i, Case: &tc})
	}
	return nil
}

func (m *MemoryStore) PutCase(_ context.Context, index int, tc model.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.cases) <= index {
		m.cases = append(m.cases, model.TestCase{})
	}
	m.cases[index] = tc
	m.publishLocked(CaseEvent{Type: CaseUpdate, Index: index, Case: &tc})
	return nil
}

func (m *MemoryStore) ListCases(_ context.Context) ([]model.TestCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cases := make([]model.TestCase, len(m.cases))
	copy(cases, m.cases)
	return cases, nil
}

// WatchCases 慢消费者会丢事件，不阻塞写入方
func (m *MemoryStore) WatchCases(ctx context.Context) <-chan CaseEvent {
	stream := make(chan CaseEvent, 64)

	m.mu.Lock()
	m.subscribers[stream] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subscribers[stream]; ok {
			delete(m.subscribers, stream)
			close(stream)
		}
	}()

	return stream
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for stream := range m.subscribers {
		close(stream)
	}
	clear(m.subscribers)
	return nil
}

func (m *MemoryStore) publishLocked(event CaseEvent) {
	for stream := range m.subscribers {
		select {
		case stream <- event:
		default:
		}
	}
}
