package queue

import (
	"context"
	"sort"
	"sync"
)

// ResultStore keeps processing results keyed by request id, bounded by
// Trim to the most recent entries by queue time.
type ResultStore interface {
	Put(ctx context.Context, requestID string, result Result) error
	Get(ctx context.Context, requestID string) (Result, bool, error)
	Delete(ctx context.Context, requestID string) error
	Trim(ctx context.Context, max int) error
}

// MemoryResults is the default in-process result table.
type MemoryResults struct {
	mu      sync.Mutex
	results map[string]Result
}

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{results: make(map[string]Result)}
}

func (m *MemoryResults) Put(_ context.Context, requestID string, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[requestID] = result
	return nil
}

func (m *MemoryResults) Get(_ context.Context, requestID string) (Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[requestID]
	return res, ok, nil
}

func (m *MemoryResults) Delete(_ context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, requestID)
	return nil
}

// Trim evicts the oldest entries by queue time until at most max remain.
func (m *MemoryResults) Trim(_ context.Context, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.results) <= max {
		return nil
	}

	ids := make([]string, 0, len(m.results))
	for id := range m.results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.results[ids[i]].QueuedAt.Before(m.results[ids[j]].QueuedAt)
	})
	for _, id := range ids[:len(ids)-max] {
		delete(m.results, id)
	}
	return nil
}
