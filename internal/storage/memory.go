package storage

import (
	"context"
	"sync"

	"trendsched/internal/jobs"
)

type memoryStore struct {
	mu     sync.Mutex
	byID   map[string]jobs.Execution
	closed bool
}

// NewMemory returns a Store that lives only as long as the process.
func NewMemory() Store {
	return &memoryStore{byID: map[string]jobs.Execution{}}
}

func (m *memoryStore) PutExecution(_ context.Context, e jobs.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	m.byID[e.ID] = e
	return nil
}

func (m *memoryStore) ListExecutions(context.Context) ([]jobs.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]jobs.Execution, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryStore) DeleteExecutions(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.byID, id)
	}
	return nil
}

func (m *memoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	return nil
}

func (m *memoryStore) Driver() string { return "memory" }

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
