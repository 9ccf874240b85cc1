// Package specstore serves prefab interface contracts. Reads go through
// an in-process TTL cache in front of the durable store; a stale spec is
// acceptable because mismatches surface as validation errors downstream.
package specstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prefab-labs/prefab-gateway/internal/domain"
)

var ErrNotFound = errors.New("interface spec not found")

type Store interface {
	Get(ctx context.Context, prefabID, version string) (domain.InterfaceSpec, error)
	Put(ctx context.Context, spec domain.InterfaceSpec) error
}

type cacheEntry struct {
	spec      domain.InterfaceSpec
	expiresAt time.Time
}

// Cache is a read-through cache over a Store. Hits never refresh the TTL;
// a written spec replaces the cached entry immediately.
type Cache struct {
	inner Store
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCache(inner Store, ttl time.Duration) (*Cache, error) {
	if inner == nil {
		return nil, errors.New("inner store is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}, nil
}

func cacheKey(prefabID, version string) string {
	return prefabID + "@" + version
}

func (c *Cache) Get(ctx context.Context, prefabID, version string) (domain.InterfaceSpec, error) {
	key := cacheKey(prefabID, version)

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.spec, nil
	}
	c.mu.Unlock()

	spec, err := c.inner.Get(ctx, prefabID, version)
	if err != nil {
		return domain.InterfaceSpec{}, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{spec: spec, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return spec, nil
}

// Invalidate drops the cached entry so the next read hits the durable
// store. Used when a redeploy may have changed the contract.
func (c *Cache) Invalidate(prefabID, version string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(prefabID, version))
	c.mu.Unlock()
}

func (c *Cache) Put(ctx context.Context, spec domain.InterfaceSpec) error {
	if err := c.inner.Put(ctx, spec); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[cacheKey(spec.PrefabID, spec.Version)] = cacheEntry{
		spec:      spec,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
	return nil
}
