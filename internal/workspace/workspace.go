// Package workspace manages the shared staging area for in-flight
// requests. Each request owns one uniquely named subdirectory; Close is
// the fast path on request completion and the periodic sweep reclaims
// directories left behind by crashed requests.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Workspace is the request-scoped staging directory.
type Workspace struct {
	RequestID string
	Dir       string
}

type Manager struct {
	root   string
	logger *slog.Logger
}

func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root, logger: logger}, nil
}

// Open creates (or reuses) the directory for a request id. One workspace
// per request id: opening twice returns the same path.
func (m *Manager) Open(requestID string) (Workspace, error) {
	id := strings.TrimSpace(requestID)
	if id == "" {
		return Workspace{}, errors.New("request id is required")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return Workspace{}, fmt.Errorf("invalid request id: %q", requestID)
	}

	dir := filepath.Join(m.root, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Workspace{}, fmt.Errorf("create workspace %s: %w", id, err)
	}
	return Workspace{RequestID: id, Dir: dir}, nil
}

// Close removes a workspace. Idempotent: closing an already-removed
// workspace succeeds.
func (m *Manager) Close(ws Workspace) error {
	if ws.Dir == "" {
		return nil
	}
	// Refuse anything outside the managed root.
	if filepath.Dir(ws.Dir) != filepath.Clean(m.root) {
		return fmt.Errorf("workspace %s is not under root %s", ws.Dir, m.root)
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", ws.RequestID, err)
	}
	return nil
}

// Sweep removes request directories whose mtime is older than maxAge and
// reports how many were removed. Age, not liveness: crashed requests
// leave no reliable signal, so the grace window is the only predicate.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			if m.logger != nil {
				m.logger.Warn("workspace sweep failed", "dir", dir, "error", err)
			}
			continue
		}
		removed++
		if m.logger != nil {
			m.logger.Info("workspace swept", "request_id", entry.Name(), "age", time.Since(info.ModTime()).Round(time.Second))
		}
	}
	return removed, nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (m *Manager) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(maxAge); err != nil && m.logger != nil {
				m.logger.Error("workspace sweep error", "error", err)
			}
		}
	}
}
