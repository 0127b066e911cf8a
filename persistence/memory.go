package persistence

import (
	"context"
	"sync"
)

// MemoryBackend keeps blocks in process memory. Used for demo mode and tests.
type MemoryBackend struct {
	mu     sync.RWMutex
	levels map[Level]map[string]map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		levels: make(map[Level]map[string]map[string][]byte),
	}
}

// Read returns a copy of the stored value
func (m *MemoryBackend) Read(_ context.Context, level Level, block, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.levels[level][block][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Write applies all writes under a single lock
func (m *MemoryBackend) Write(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		blocks, ok := m.levels[w.Level]
		if !ok {
			blocks = make(map[string]map[string][]byte)
			m.levels[w.Level] = blocks
		}
		values, ok := blocks[w.Block]
		if !ok {
			values = make(map[string][]byte)
			blocks[w.Block] = values
		}
		values[w.Key] = append([]byte(nil), w.Value...)
	}
	return nil
}

// Clear drops every block stored at level
func (m *MemoryBackend) Clear(_ context.Context, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.levels, level)
	return nil
}
