package store

import (
	"context"
	"sort"
	"sync"

	"sendlater/internal/domain"
)

// Memory is a non-durable Store for development and tests.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]domain.Task)}
}

func (m *Memory) Insert(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return ErrDuplicate
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadAll(_ context.Context) ([]domain.Task, []RecordError, error) {
	m.mu.Lock()
	tasks := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].FireAt.Equal(tasks[j].FireAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].FireAt.Before(tasks[j].FireAt)
	})
	return tasks, nil, nil
}

func (m *Memory) LoadIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Close() error { return nil }
