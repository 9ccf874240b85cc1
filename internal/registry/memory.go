package registry

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Resolver for tests.
type Memory struct {
	mu        sync.Mutex
	endpoints map[string]string
}

func NewMemory() *Memory {
	return &Memory{endpoints: make(map[string]string)}
}

func (m *Memory) Set(prefabID, version, endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[prefabID+"@"+version] = endpoint
}

func (m *Memory) Resolve(_ context.Context, prefabID, version string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoint, ok := m.endpoints[prefabID+"@"+version]
	if !ok {
		return "", fmt.Errorf("%s@%s: %w", prefabID, version, ErrNotFound)
	}
	return endpoint, nil
}
