package vault

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryKey struct {
	caller   string
	prefabID string
	name     string
}

type memoryEntry struct {
	value      string
	updatedAt  time.Time
	lastUsedAt *time.Time
}

// Memory is an in-process Vault for tests and local development.
type Memory struct {
	mu      sync.Mutex
	entries map[memoryKey]memoryEntry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[memoryKey]memoryEntry)}
}

func (m *Memory) Get(ctx context.Context, caller, prefabID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{caller: caller, prefabID: prefabID, name: name}
	entry, ok := m.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	now := time.Now().UTC()
	entry.lastUsedAt = &now
	m.entries[key] = entry
	return entry.value, nil
}

func (m *Memory) Put(ctx context.Context, caller, prefabID, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{caller: caller, prefabID: prefabID, name: name}
	m.entries[key] = memoryEntry{value: value, updatedAt: time.Now().UTC()}
	return nil
}

func (m *Memory) Delete(ctx context.Context, caller, prefabID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, memoryKey{caller: caller, prefabID: prefabID, name: name})
	return nil
}

func (m *Memory) List(ctx context.Context, caller, prefabID string) ([]Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Metadata
	for key, entry := range m.entries {
		if key.caller != caller || key.prefabID != prefabID {
			continue
		}
		out = append(out, Metadata{
			Name:       key.name,
			UpdatedAt:  entry.updatedAt,
			LastUsedAt: entry.lastUsedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
