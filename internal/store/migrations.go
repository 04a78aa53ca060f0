// SPDX-License-Identifier: AGPL-3.0-only
package store

import (
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step.
type migration struct {
	version int
	up      func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE invocations (
					id             INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id     TEXT NOT NULL,
					correlation_id TEXT DEFAULT '',
					tool_name      TEXT NOT NULL,
					arguments      TEXT DEFAULT '{}',
					ok             INTEGER NOT NULL DEFAULT 0,
					payload        TEXT DEFAULT '',
					error          TEXT DEFAULT '',
					start_time     TEXT NOT NULL,
					end_time       TEXT NOT NULL,
					duration       TEXT DEFAULT ''
				);
				CREATE INDEX idx_invocations_session_start ON invocations (session_id, start_time DESC);
			`)
			return err
		},
	},
	{
		version: 2,
		up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX idx_invocations_start ON invocations (start_time DESC)`)
			return err
		},
	},
}

// currentVersion reads the applied schema version, seeding it with 0 on a
// fresh database.
func currentVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var v int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (0)"); err != nil {
			return 0, fmt.Errorf("insert initial schema version: %w", err)
		}
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// runMigrations applies every migration newer than the stored version, each
// in its own transaction.
func runMigrations(db *sql.DB) error {
	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version to %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
