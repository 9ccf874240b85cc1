package specstore

import (
	"context"
	"sync"

	"github.com/prefab-labs/prefab-gateway/internal/domain"
)

// Memory is an in-process Store for tests.
type Memory struct {
	mu    sync.Mutex
	specs map[string]domain.InterfaceSpec
}

func NewMemory() *Memory {
	return &Memory{specs: make(map[string]domain.InterfaceSpec)}
}

func (m *Memory) Get(ctx context.Context, prefabID, version string) (domain.InterfaceSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	spec, ok := m.specs[cacheKey(prefabID, version)]
	if !ok {
		return domain.InterfaceSpec{}, ErrNotFound
	}
	return spec, nil
}

// Invalidate is a no-op: Memory is the durable store, nothing is cached.
func (m *Memory) Invalidate(prefabID, version string) {}

func (m *Memory) Put(ctx context.Context, spec domain.InterfaceSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.specs[cacheKey(spec.PrefabID, spec.Version)] = spec
	return nil
}
