package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. State is lost on exit.
type MemoryStore struct {
	mu   sync.Mutex
	vars map[string]string
	runs []SyncRun
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vars: make(map[string]string)}
}

func (m *MemoryStore) GetVariable(_ context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vars[name]
	return v, ok, nil
}

func (m *MemoryStore) SetVariable(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[name] = value
	return nil
}

func (m *MemoryStore) RecordRun(_ context.Context, run SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *MemoryStore) RecentRuns(_ context.Context, limit int) ([]SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := append([]SyncRun(nil), m.runs...)
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
