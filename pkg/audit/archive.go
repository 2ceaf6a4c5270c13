package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteArchive persists chained entries to a local sqlite database so the
// trail survives process restarts. It is fed by a ChainStore handler; the
// in-memory chain stays the source of truth for verification.
type SQLiteArchive struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLiteArchive opens (or creates) an archive at path and runs the
// schema migration.
func OpenSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open archive: %w", err)
	}
	a, err := NewSQLiteArchive(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// NewSQLiteArchive wraps an existing connection and runs the schema
// migration.
func NewSQLiteArchive(db *sql.DB) (*SQLiteArchive, error) {
	a := &SQLiteArchive{
		db:  db,
		log: slog.Default().With("component", "audit_archive"),
	}
	if err := a.migrate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *SQLiteArchive) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		sequence INTEGER PRIMARY KEY,
		entry_id TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		actor TEXT,
		tenant_id TEXT,
		resource TEXT,
		action TEXT,
		decision TEXT,
		reason TEXT,
		orchestration_id TEXT,
		details JSON,
		timestamp TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

// Archive inserts one chained entry.
func (a *SQLiteArchive) Archive(ctx context.Context, ce *ChainedEntry) error {
	detailsJSON, _ := json.Marshal(ce.Entry.Details)
	query := `INSERT INTO audit_entries (
		sequence, entry_id, category, severity, actor, tenant_id, resource,
		action, decision, reason, orchestration_id, details, timestamp,
		payload_hash, previous_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := a.db.ExecContext(ctx, query,
		ce.Sequence, ce.Entry.ID, string(ce.Entry.Category), string(ce.Entry.Severity),
		ce.Entry.Actor, ce.Entry.TenantID, ce.Entry.Resource,
		ce.Entry.Action, ce.Entry.Decision, ce.Entry.Reason, ce.Entry.OrchestrationID,
		string(detailsJSON), ce.Entry.Timestamp.UTC().Format(time.RFC3339Nano),
		ce.PayloadHash, ce.PreviousHash, ce.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("audit: archive insert failed: %w", err)
	}
	return nil
}

// Attach registers the archive as a handler on the chain store. Insert
// failures are logged and dropped; archiving is best-effort like every
// other audit sink.
func (a *SQLiteArchive) Attach(store *ChainStore) {
	store.AddHandler(func(ce *ChainedEntry) {
		if err := a.Archive(context.Background(), ce); err != nil {
			a.log.Warn("archive write dropped", "sequence", ce.Sequence, "error", err)
		}
	})
}

// List returns the most recent archived entries, newest first.
func (a *SQLiteArchive) List(ctx context.Context, limit int) ([]*ChainedEntry, error) {
	query := `
		SELECT sequence, entry_id, category, severity, actor, tenant_id, resource,
		       action, decision, reason, orchestration_id, details, timestamp,
		       payload_hash, previous_hash, entry_hash
		FROM audit_entries
		ORDER BY sequence DESC
		LIMIT ?`
	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*ChainedEntry
	for rows.Next() {
		ce, err := scanArchiveRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ce)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Get retrieves one archived entry by sequence.
func (a *SQLiteArchive) Get(ctx context.Context, sequence uint64) (*ChainedEntry, error) {
	query := `
		SELECT sequence, entry_id, category, severity, actor, tenant_id, resource,
		       action, decision, reason, orchestration_id, details, timestamp,
		       payload_hash, previous_hash, entry_hash
		FROM audit_entries
		WHERE sequence = ?`
	row := a.db.QueryRowContext(ctx, query, sequence)
	ce, err := scanArchiveRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return ce, err
}

// Close closes the underlying database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchiveRow(row rowScanner) (*ChainedEntry, error) {
	var ce ChainedEntry
	var category, severity, timestamp string
	var actor, tenantID, resource, action, decision, reason, orchestrationID, detailsJSON sql.NullString

	err := row.Scan(&ce.Sequence, &ce.Entry.ID, &category, &severity, &actor, &tenantID,
		&resource, &action, &decision, &reason, &orchestrationID, &detailsJSON,
		&timestamp, &ce.PayloadHash, &ce.PreviousHash, &ce.EntryHash)
	if err != nil {
		return nil, err
	}

	var details map[string]any
	if detailsJSON.Valid && detailsJSON.String != "" {
		_ = json.Unmarshal([]byte(detailsJSON.String), &details)
	}
	ts, _ := time.Parse(time.RFC3339Nano, timestamp)

	ce.Entry.Category = Category(category)
	ce.Entry.Severity = Severity(severity)
	ce.Entry.Actor = actor.String
	ce.Entry.TenantID = tenantID.String
	ce.Entry.Resource = resource.String
	ce.Entry.Action = action.String
	ce.Entry.Decision = decision.String
	ce.Entry.Reason = reason.String
	ce.Entry.OrchestrationID = orchestrationID.String
	ce.Entry.Details = details
	ce.Entry.Timestamp = ts
	return &ce, nil
}
