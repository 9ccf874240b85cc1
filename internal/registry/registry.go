// Package registry tracks which prefab services are deployed and where
// they answer. The gateway resolves endpoints here before invoking; the
// factory keeps the registry current through deployment webhooks.
package registry

import (
	"context"
	"errors"
)

// ErrNotFound means no deployed service exists for the prefab/version.
var ErrNotFound = errors.New("no deployed service for prefab")

// ErrEventNotFound means no webhook delivery with that id was received.
var ErrEventNotFound = errors.New("webhook event not found")

// Resolver maps a prefab id and version to a callable base endpoint.
type Resolver interface {
	Resolve(ctx context.Context, prefabID, version string) (string, error)
}
