// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// Migrate brings db's schema up to schemaVersion, gated by PRAGMA user_version
// so repeated calls against an already-current database are no-ops.
func Migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("catalog: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin migration: %w", err)
	}
	defer tx.Rollback()

	const schema = `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		fetch_last_days INTEGER NOT NULL,
		refresh_frequency_hours INTEGER NOT NULL,
		sponsorblock TEXT NOT NULL DEFAULT '',
		metadata_json TEXT,
		last_refreshed_at INTEGER,
		last_scheduled_refresh INTEGER
	);

	CREATE TABLE IF NOT EXISTS medias (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		metadata_json TEXT,
		media_path TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_medias_source_id ON medias(source_id);
	`
	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("catalog: apply schema: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("catalog: set schema version: %w", err)
	}

	return tx.Commit()
}
