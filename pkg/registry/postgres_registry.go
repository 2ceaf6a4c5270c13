package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/baton/pkg/manifest"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// PostgresStore mirrors registry entries into Postgres. One row per domain;
// Save upserts so re-registration overwrites in place, matching the
// in-memory registry's overwrite semantics.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. The caller owns the
// handle's lifecycle and driver registration (lib/pq).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgRegistrySchema = `
CREATE TABLE IF NOT EXISTS orchestra_manifests (
	domain TEXT PRIMARY KEY,
	manifest_json JSONB NOT NULL,
	hash TEXT NOT NULL,
	status TEXT NOT NULL,
	status_reason TEXT,
	registered_at TIMESTAMPTZ NOT NULL
);
`

// Init creates the schema if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgRegistrySchema)
	return err
}

// Save upserts the entry's row.
func (s *PostgresStore) Save(ctx context.Context, e *Entry) error {
	if e == nil || e.Manifest == nil {
		return errors.New("registry: nil entry")
	}

	manifestJSON, err := json.Marshal(e.Manifest)
	if err != nil {
		return fmt.Errorf("registry: marshal manifest: %w", err)
	}

	query := `
		INSERT INTO orchestra_manifests (domain, manifest_json, hash, status, status_reason, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (domain) DO UPDATE
		SET manifest_json = $2, hash = $3, status = $4, status_reason = $5, registered_at = $6
	`
	_, err = s.db.ExecContext(ctx, query,
		e.Manifest.Domain.String(),
		manifestJSON,
		e.Hash,
		string(e.Status),
		nullString(e.StatusReason),
		e.RegisteredAt.UTC(),
	)
	return err
}

// LoadAll reads every mirrored entry. Rows that fail to decode are skipped
// rather than failing the whole restore.
func (s *PostgresStore) LoadAll(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT domain, manifest_json, hash, status, status_reason, registered_at FROM orchestra_manifests")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		var (
			domain       string
			manifestJSON []byte
			hash         string
			status       string
			statusReason sql.NullString
			registeredAt time.Time
		)
		if err := rows.Scan(&domain, &manifestJSON, &hash, &status, &statusReason, &registeredAt); err != nil {
			return nil, err
		}

		var m manifest.OrchestraManifest
		if err := json.Unmarshal(manifestJSON, &m); err != nil {
			continue
		}
		if !orchestra.Domain(domain).Valid() {
			continue
		}

		entries = append(entries, &Entry{
			Manifest:     &m,
			Hash:         hash,
			RegisteredAt: registeredAt,
			Status:       Status(status),
			StatusReason: statusReason.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
