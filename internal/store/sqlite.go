// SPDX-License-Identifier: AGPL-3.0-only
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jolks/mcp-relay/internal/model"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

// maxRecent caps how many records RecentInvocations returns.
const maxRecent = 500

// SQLiteStore is an append-only tool invocation journal backed by SQLite.
// It implements model.InvocationJournal.
type SQLiteStore struct {
	db *sql.DB
}

var _ model.InvocationJournal = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the journal at dbPath, enables WAL mode
// and runs pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveInvocation appends one invocation record.
func (s *SQLiteStore) SaveInvocation(rec *model.InvocationRecord) error {
	args := rec.Arguments
	if args == "" {
		args = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO invocations (session_id, correlation_id, tool_name, arguments, ok, payload, error, start_time, end_time, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.CorrelationID,
		rec.ToolName,
		args,
		boolToInt(rec.OK),
		rec.Payload,
		rec.Error,
		rec.StartTime.UTC().Format(timeFormat),
		rec.EndTime.UTC().Format(timeFormat),
		rec.Duration,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// RecentInvocations returns up to limit records, most recent first. An empty
// sessionID returns records across all sessions.
func (s *SQLiteStore) RecentInvocations(sessionID string, limit int) ([]*model.InvocationRecord, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > maxRecent {
		limit = maxRecent
	}

	const cols = `session_id, correlation_id, tool_name, arguments, ok, payload, error, start_time, end_time, duration`
	var (
		rows *sql.Rows
		err  error
	)
	if sessionID == "" {
		rows, err = s.db.Query(`SELECT `+cols+` FROM invocations ORDER BY start_time DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`SELECT `+cols+` FROM invocations WHERE session_id = ? ORDER BY start_time DESC, id DESC LIMIT ?`, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var records []*model.InvocationRecord
	for rows.Next() {
		var r model.InvocationRecord
		var ok int
		var startStr, endStr string
		if err := rows.Scan(
			&r.SessionID, &r.CorrelationID, &r.ToolName, &r.Arguments, &ok,
			&r.Payload, &r.Error, &startStr, &endStr, &r.Duration,
		); err != nil {
			return nil, fmt.Errorf("scan invocation row: %w", err)
		}
		r.OK = ok != 0
		r.StartTime, _ = time.Parse(timeFormat, startStr)
		r.EndTime, _ = time.Parse(timeFormat, endStr)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocation rows: %w", err)
	}
	return records, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
