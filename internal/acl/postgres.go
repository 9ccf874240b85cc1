package acl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Postgres backs AccessControl with the user_files table keyed on
// (user_id, file_uri).
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) CanRead(ctx context.Context, caller, uri string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(
		ctx,
		`SELECT EXISTS (
			SELECT 1 FROM user_files WHERE user_id = $1 AND file_uri = $2
		)`,
		caller, uri,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check read permission: %w", err)
	}
	return exists, nil
}

func (p *Postgres) GrantOwnership(ctx context.Context, caller, uri string) error {
	_, err := p.db.ExecContext(
		ctx,
		`INSERT INTO user_files (user_id, file_uri, granted_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, file_uri) DO NOTHING`,
		caller, uri, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("grant ownership: %w", err)
	}
	return nil
}

// Revoke removes a caller's access to a URI. Not part of the pipeline
// path; exposed for administrative tooling.
func (p *Postgres) Revoke(ctx context.Context, caller, uri string) error {
	_, err := p.db.ExecContext(
		ctx,
		`DELETE FROM user_files WHERE user_id = $1 AND file_uri = $2`,
		caller, uri,
	)
	if err != nil {
		return fmt.Errorf("revoke access: %w", err)
	}
	return nil
}

// ListFiles returns the URIs a caller may read.
func (p *Postgres) ListFiles(ctx context.Context, caller string) ([]string, error) {
	rows, err := p.db.QueryContext(
		ctx,
		`SELECT file_uri FROM user_files WHERE user_id = $1 ORDER BY file_uri`,
		caller,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan file uri: %w", err)
		}
		out = append(out, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}
