package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"admin-dashboard/internal/domain"
)

type memoryEntry struct {
	value     []byte
	updatedAt time.Time
}

// Memory is a process-local KV store. Values are copied on the way in and out.
type Memory struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{data: map[string]memoryEntry{}, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryEntry{value: append([]byte(nil), value...), updatedAt: m.now()}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Prune drops entries under prefix not written within retention and reports how many went.
func (m *Memory) Prune(prefix string, retention time.Duration) int {
	cutoff := m.now().Add(-retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.data {
		if strings.HasPrefix(k, prefix) && e.updatedAt.Before(cutoff) {
			delete(m.data, k)
			removed++
		}
	}
	return removed
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
