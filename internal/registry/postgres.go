package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Deployment is one factory-reported service placement.
type Deployment struct {
	PrefabID  string
	Version   string
	Endpoint  string
	Status    string
	UpdatedAt time.Time
}

const (
	StatusDeployed = "deployed"
	StatusRemoved  = "removed"
)

// WebhookEvent is one recorded factory delivery. Processed flips once
// the deployment it carries has been applied; a replayed delivery keeps
// the original row.
type WebhookEvent struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	PrefabID    string     `json:"prefab_id"`
	Version     string     `json:"version"`
	Processed   bool       `json:"processed"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Postgres stores factory-reported deployments in the
// prefab_deployments table, keyed on (prefab_id, version), with webhook
// deliveries in webhook_events (event_id primary key, type, prefab,
// version, processed state). Only rows in status 'deployed' resolve.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Resolve(ctx context.Context, prefabID, version string) (string, error) {
	const q = `
		SELECT endpoint
		FROM prefab_deployments
		WHERE prefab_id = $1 AND version = $2 AND status = $3`
	var endpoint string
	err := p.db.QueryRowContext(ctx, q, prefabID, version, StatusDeployed).Scan(&endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s@%s: %w", prefabID, version, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s@%s: %w", prefabID, version, err)
	}
	return endpoint, nil
}

// Record upserts a deployment row. The factory is the source of truth,
// so the latest report wins.
func (p *Postgres) Record(ctx context.Context, d Deployment) error {
	if d.PrefabID == "" || d.Version == "" {
		return errors.New("deployment requires prefab_id and version")
	}
	if d.Status != StatusDeployed && d.Status != StatusRemoved {
		return fmt.Errorf("unknown deployment status %q", d.Status)
	}
	if d.Status == StatusDeployed && d.Endpoint == "" {
		return errors.New("deployed status requires an endpoint")
	}
	const q = `
		INSERT INTO prefab_deployments (prefab_id, version, endpoint, status, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (prefab_id, version)
		DO UPDATE SET endpoint = EXCLUDED.endpoint, status = EXCLUDED.status, updated_at = now()`
	if _, err := p.db.ExecContext(ctx, q, d.PrefabID, d.Version, d.Endpoint, d.Status); err != nil {
		return fmt.Errorf("record deployment %s@%s: %w", d.PrefabID, d.Version, err)
	}
	return nil
}

// RecordEvent stores a webhook delivery and reports whether it was new.
// Redeliveries return false so handlers can skip replays.
func (p *Postgres) RecordEvent(ctx context.Context, eventID, eventType, prefabID, version string) (bool, error) {
	const q = `
		INSERT INTO webhook_events (event_id, event_type, prefab_id, version, processed, received_at)
		VALUES ($1, $2, $3, $4, FALSE, now())
		ON CONFLICT (event_id) DO NOTHING`
	res, err := p.db.ExecContext(ctx, q, eventID, eventType, prefabID, version)
	if err != nil {
		return false, fmt.Errorf("record webhook event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record webhook event %s: %w", eventID, err)
	}
	return n == 1, nil
}

// MarkEventProcessed flags a delivery whose deployment state has been
// applied.
func (p *Postgres) MarkEventProcessed(ctx context.Context, eventID string) error {
	const q = `
		UPDATE webhook_events
		SET processed = TRUE, processed_at = now()
		WHERE event_id = $1`
	if _, err := p.db.ExecContext(ctx, q, eventID); err != nil {
		return fmt.Errorf("mark webhook event %s processed: %w", eventID, err)
	}
	return nil
}

// GetEvent returns the processing state of one delivery.
func (p *Postgres) GetEvent(ctx context.Context, eventID string) (WebhookEvent, error) {
	const q = `
		SELECT event_id, event_type, prefab_id, version, processed, received_at, processed_at
		FROM webhook_events
		WHERE event_id = $1`
	var event WebhookEvent
	err := p.db.QueryRowContext(ctx, q, eventID).Scan(
		&event.EventID,
		&event.EventType,
		&event.PrefabID,
		&event.Version,
		&event.Processed,
		&event.ReceivedAt,
		&event.ProcessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return WebhookEvent{}, fmt.Errorf("%s: %w", eventID, ErrEventNotFound)
	}
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("get webhook event %s: %w", eventID, err)
	}
	return event, nil
}

// Template resolves endpoints by naming convention instead of registry
// lookups, for clusters where every prefab answers at
// http://<prefab-id>.<namespace>.<suffix>. Versions share one service.
type Template struct {
	Namespace string
	Suffix    string
}

func (t Template) Resolve(_ context.Context, prefabID, _ string) (string, error) {
	if strings.TrimSpace(prefabID) == "" {
		return "", fmt.Errorf("empty prefab id: %w", ErrNotFound)
	}
	return fmt.Sprintf("http://%s.%s.%s", prefabID, t.Namespace, t.Suffix), nil
}
