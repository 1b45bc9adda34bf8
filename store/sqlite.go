package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hupe1980/agentcouncil/core"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS snapshots (
		session_id TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
`

// SQLiteStore persists snapshots in a local SQLite database using the pure-Go
// driver, so single-node deployments survive restarts without any external
// service.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// snapshot table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save implements SnapshotStore via upsert.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, data, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(session_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, sessionID, data)
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", sessionID, err)
	}
	return nil
}

// Load implements SnapshotStore.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "snapshot", Name: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", sessionID, err)
	}
	return data, nil
}

// Delete implements SnapshotStore.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", sessionID, err)
	}
	return nil
}

// Close implements SnapshotStore.
func (s *SQLiteStore) Close() error { return s.db.Close() }
