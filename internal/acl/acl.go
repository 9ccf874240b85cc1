// Package acl answers capability questions about durable-storage objects:
// may this caller read that URI, and who owns a freshly produced output.
// Grants are additive; the pipeline never revokes access.
package acl

import "context"

type AccessControl interface {
	CanRead(ctx context.Context, caller, uri string) (bool, error)
	// GrantOwnership is idempotent; granting twice is not an error.
	GrantOwnership(ctx context.Context, caller, uri string) error
}
