package specstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prefab-labs/prefab-gateway/internal/domain"
)

// Postgres persists interface specs as JSON in the prefab_specs table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, prefabID, version string) (domain.InterfaceSpec, error) {
	var raw []byte
	err := p.db.QueryRowContext(
		ctx,
		`SELECT spec_json FROM prefab_specs WHERE prefab_id = $1 AND version = $2`,
		prefabID, version,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InterfaceSpec{}, ErrNotFound
	}
	if err != nil {
		return domain.InterfaceSpec{}, fmt.Errorf("select spec: %w", err)
	}

	var spec domain.InterfaceSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return domain.InterfaceSpec{}, fmt.Errorf("decode stored spec %s@%s: %w", prefabID, version, err)
	}
	return spec, nil
}

func (p *Postgres) Put(ctx context.Context, spec domain.InterfaceSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}

	now := time.Now().UTC()
	_, err = p.db.ExecContext(
		ctx,
		`INSERT INTO prefab_specs (prefab_id, version, spec_json, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (prefab_id, version)
		 DO UPDATE SET spec_json = EXCLUDED.spec_json, updated_at = EXCLUDED.updated_at`,
		spec.PrefabID, spec.Version, raw, now,
	)
	if err != nil {
		return fmt.Errorf("upsert spec: %w", err)
	}
	return nil
}
