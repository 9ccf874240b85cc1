package vault

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_CallerIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "alice", "weather-api", "API_KEY", "alice-key"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if err := m.Put(ctx, "bob", "weather-api", "API_KEY", "bob-key"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}

	got, err := m.Get(ctx, "alice", "weather-api", "API_KEY")
	if err != nil {
		t.Fatalf("Get(alice) err=%v", err)
	}
	if got != "alice-key" {
		t.Fatalf("Get(alice)=%q, want alice-key", got)
	}

	got, err = m.Get(ctx, "bob", "weather-api", "API_KEY")
	if err != nil {
		t.Fatalf("Get(bob) err=%v", err)
	}
	if got != "bob-key" {
		t.Fatalf("Get(bob)=%q, want bob-key", got)
	}

	if _, err := m.Get(ctx, "carol", "weather-api", "API_KEY"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(carol) err=%v, want ErrNotFound", err)
	}
}

func TestMemory_ExactMatchOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "alice", "weather-api", "API_KEY", "v"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}

	if _, err := m.Get(ctx, "alice", "weather-api", "api_key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("name must match exactly, err=%v", err)
	}
	if _, err := m.Get(ctx, "alice", "other-prefab", "API_KEY"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("prefab must match exactly, err=%v", err)
	}
}

func TestMemory_ListReturnsMetadataOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "alice", "weather-api", "API_KEY", "secret-value"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if err := m.Put(ctx, "alice", "weather-api", "ACCOUNT_ID", "12345"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}

	metas, err := m.List(ctx, "alice", "weather-api")
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len(metas)=%d, want 2", len(metas))
	}
	if metas[0].Name != "ACCOUNT_ID" || metas[1].Name != "API_KEY" {
		t.Fatalf("metas=%v, want sorted by name", metas)
	}
}

func TestMemory_GetUpdatesLastUsed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "alice", "weather-api", "API_KEY", "v"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}

	metas, err := m.List(ctx, "alice", "weather-api")
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if metas[0].LastUsedAt != nil {
		t.Fatalf("LastUsedAt should be nil before first Get")
	}

	if _, err := m.Get(ctx, "alice", "weather-api", "API_KEY"); err != nil {
		t.Fatalf("Get() err=%v", err)
	}

	metas, err = m.List(ctx, "alice", "weather-api")
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if metas[0].LastUsedAt == nil {
		t.Fatalf("LastUsedAt should be set after Get")
	}
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "alice", "weather-api", "API_KEY", "v"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if err := m.Delete(ctx, "alice", "weather-api", "API_KEY"); err != nil {
		t.Fatalf("Delete() err=%v", err)
	}
	if _, err := m.Get(ctx, "alice", "weather-api", "API_KEY"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete err=%v, want ErrNotFound", err)
	}
	// Deleting again is not an error.
	if err := m.Delete(ctx, "alice", "weather-api", "API_KEY"); err != nil {
		t.Fatalf("second Delete() err=%v", err)
	}
}
