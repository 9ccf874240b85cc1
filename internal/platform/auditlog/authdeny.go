package auditlog

import (
	"context"
	"strings"

	"github.com/prefab-labs/prefab-gateway/internal/platform/auth"
)

// InsertAuthDeny records a rejected request as an audit event.
func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	actor := strings.TrimSpace(event.Subject)
	if actor == "" {
		actor = "anonymous"
	}
	_, err := Insert(ctx, q, Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth.deny",
		ResourceType: "endpoint",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		Payload: map[string]any{
			"service":     service,
			"status":      event.Status,
			"reason":      event.Reason,
			"error":       event.Error,
			"remote_addr": event.RemoteAddr,
			"user_agent":  event.UserAgent,
		},
	})
	return err
}
