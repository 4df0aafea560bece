package quota

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite is a device-local Store backed by a SQLite database file. It is the
// default persistence on devices without an account-shared database.
type SQLite struct {
	db *sql.DB
}

// Compile-time interface assertion.
var _ Store = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS premium_sessions (
	month      TEXT    NOT NULL,
	session_id TEXT    NOT NULL,
	position   INTEGER NOT NULL,
	PRIMARY KEY (month, session_id)
);
CREATE INDEX IF NOT EXISTS idx_premium_sessions_month
	ON premium_sessions (month, position);
`

// NewSQLite opens (creating if needed) the database file at dbPath and
// ensures the schema exists. The parent directory is created if missing.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("quota: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("quota: open db: %w", err)
	}
	// modernc sqlite handles one writer at a time; a single connection
	// avoids SQLITE_BUSY churn for this low-traffic store.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("quota: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Load returns the session ids stored for monthKey, most recent first.
func (s *SQLite) Load(ctx context.Context, monthKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM premium_sessions WHERE month = ? ORDER BY position ASC`,
		monthKey)
	if err != nil {
		return nil, fmt.Errorf("quota: load %s: %w", monthKey, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("quota: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("quota: load %s: %w", monthKey, err)
	}
	return ids, nil
}

// Save replaces the stored list for monthKey inside a transaction.
func (s *SQLite) Save(ctx context.Context, monthKey string, ids []string) error {
	ids = Truncate(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("quota: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM premium_sessions WHERE month = ?`, monthKey); err != nil {
		return fmt.Errorf("quota: clear %s: %w", monthKey, err)
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO premium_sessions (month, session_id, position) VALUES (?, ?, ?)`,
			monthKey, id, i); err != nil {
			return fmt.Errorf("quota: insert %s: %w", monthKey, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("quota: commit %s: %w", monthKey, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
