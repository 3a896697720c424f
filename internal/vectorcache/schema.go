package vectorcache

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS chunks (
		source      TEXT    NOT NULL,
		doc_id      TEXT    NOT NULL,
		ordinal     INTEGER NOT NULL,
		title       TEXT    NOT NULL DEFAULT '',
		url         TEXT    NOT NULL DEFAULT '',
		body        TEXT    NOT NULL,
		embedding   TEXT    NOT NULL,
		created_at  INTEGER NOT NULL,
		last_hit_at INTEGER NOT NULL,
		hit_count   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (source, doc_id, ordinal)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_chunks_last_hit ON chunks(last_hit_at)`,
}

// migrate creates or updates the database schema to the latest version.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("vectorcache: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("vectorcache: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("vectorcache: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("vectorcache: record schema version: %w", err)
	}

	return nil
}
