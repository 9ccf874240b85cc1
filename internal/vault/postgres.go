package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Postgres stores encrypted secrets in the user_secrets table. The unique
// index on (user_id, prefab_id, secret_name) serializes writes per key;
// there is no cross-key locking.
type Postgres struct {
	db     *sql.DB
	cipher *Cipher
	logger *slog.Logger
}

func NewPostgres(db *sql.DB, cipher *Cipher, logger *slog.Logger) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if cipher == nil {
		return nil, errors.New("cipher is required")
	}
	return &Postgres{db: db, cipher: cipher, logger: logger}, nil
}

func (p *Postgres) Get(ctx context.Context, caller, prefabID, name string) (string, error) {
	var encrypted string
	err := p.db.QueryRowContext(
		ctx,
		`SELECT secret_value FROM user_secrets
		 WHERE user_id = $1 AND prefab_id = $2 AND secret_name = $3`,
		caller, prefabID, name,
	).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select secret: %w", err)
	}

	value, err := p.cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt secret %s/%s: %w", prefabID, name, err)
	}

	// Best effort: a failed touch must not fail the lookup.
	if _, err := p.db.ExecContext(
		ctx,
		`UPDATE user_secrets SET last_used_at = $4
		 WHERE user_id = $1 AND prefab_id = $2 AND secret_name = $3`,
		caller, prefabID, name, time.Now().UTC(),
	); err != nil && p.logger != nil {
		p.logger.Warn("secret last-used update failed", "prefab_id", prefabID, "secret_name", name, "error", err)
	}

	return value, nil
}

func (p *Postgres) Put(ctx context.Context, caller, prefabID, name, value string) error {
	encrypted, err := p.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}

	now := time.Now().UTC()
	_, err = p.db.ExecContext(
		ctx,
		`INSERT INTO user_secrets (user_id, prefab_id, secret_name, secret_value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, prefab_id, secret_name)
		 DO UPDATE SET secret_value = EXCLUDED.secret_value, updated_at = EXCLUDED.updated_at`,
		caller, prefabID, name, encrypted, now,
	)
	if err != nil {
		return fmt.Errorf("upsert secret: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, caller, prefabID, name string) error {
	_, err := p.db.ExecContext(
		ctx,
		`DELETE FROM user_secrets
		 WHERE user_id = $1 AND prefab_id = $2 AND secret_name = $3`,
		caller, prefabID, name,
	)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, caller, prefabID string) ([]Metadata, error) {
	rows, err := p.db.QueryContext(
		ctx,
		`SELECT secret_name, updated_at, last_used_at FROM user_secrets
		 WHERE user_id = $1 AND prefab_id = $2
		 ORDER BY secret_name`,
		caller, prefabID,
	)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Metadata
	for rows.Next() {
		var meta Metadata
		var lastUsed sql.NullTime
		if err := rows.Scan(&meta.Name, &meta.UpdatedAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan secret metadata: %w", err)
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			meta.LastUsedAt = &t
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate secrets: %w", err)
	}
	return out, nil
}
