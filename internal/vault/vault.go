// Package vault stores per-caller prefab secrets. Values are encrypted at
// rest; plaintext exists only in process memory for the duration of one
// pipeline call and is never logged or cached.
package vault

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("secret not found")

// Metadata describes a stored secret without exposing its value.
type Metadata struct {
	Name       string     `json:"name"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Vault resolves secrets by exact (caller, prefab, name) match. Get
// updates last-used metadata but never the value. No operation returns
// values in bulk.
type Vault interface {
	Get(ctx context.Context, caller, prefabID, name string) (string, error)
	Put(ctx context.Context, caller, prefabID, name, value string) error
	Delete(ctx context.Context, caller, prefabID, name string) error
	List(ctx context.Context, caller, prefabID string) ([]Metadata, error)
}
