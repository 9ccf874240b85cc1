package registry

import (
	"context"
	"errors"
	"testing"
)

func TestTemplateResolve(t *testing.T) {
	r := Template{Namespace: "prefabs", Suffix: "svc.cluster.local"}

	endpoint, err := r.Resolve(context.Background(), "video-transcriber", "1.2.0")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if endpoint != "http://video-transcriber.prefabs.svc.cluster.local" {
		t.Fatalf("endpoint = %s", endpoint)
	}

	if _, err := r.Resolve(context.Background(), "  ", "1.0.0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank prefab id: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryResolve(t *testing.T) {
	m := NewMemory()
	m.Set("summarizer", "2.0.0", "http://summarizer.test")

	endpoint, err := m.Resolve(context.Background(), "summarizer", "2.0.0")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if endpoint != "http://summarizer.test" {
		t.Fatalf("endpoint = %s", endpoint)
	}

	if _, err := m.Resolve(context.Background(), "summarizer", "1.0.0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown version: err = %v, want ErrNotFound", err)
	}
}
