package acl

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process AccessControl for tests and local development.
type Memory struct {
	mu    sync.Mutex
	files map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]map[string]struct{})}
}

func (m *Memory) CanRead(ctx context.Context, caller, uri string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.files[caller][uri]
	return ok, nil
}

func (m *Memory) GrantOwnership(ctx context.Context, caller, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.files[caller] == nil {
		m.files[caller] = make(map[string]struct{})
	}
	m.files[caller][uri] = struct{}{}
	return nil
}

func (m *Memory) Revoke(ctx context.Context, caller, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files[caller], uri)
	return nil
}

func (m *Memory) ListFiles(ctx context.Context, caller string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.files[caller]))
	for uri := range m.files[caller] {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out, nil
}
