package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	identity    TEXT PRIMARY KEY,
	data        BLOB NOT NULL,
	updated_at  TEXT NOT NULL
);
`

// #endregion schema

// #region sqlite-backend

// SQLiteBackend keeps one snapshot row per identity.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens a SQLite database and runs migrations.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// DB returns the underlying *sql.DB so the transition log can share the file.
func (b *SQLiteBackend) DB() *sql.DB {
	return b.db
}

func (b *SQLiteBackend) Load(identity string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRow(
		`SELECT data FROM snapshots WHERE identity = ?`, SanitizeIdentity(identity),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return data, nil
}

func (b *SQLiteBackend) Store(identity string, data []byte) error {
	_, err := b.db.Exec(
		`INSERT INTO snapshots (identity, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		SanitizeIdentity(identity), data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Remove(identity string) error {
	if _, err := b.db.Exec(`DELETE FROM snapshots WHERE identity = ?`, SanitizeIdentity(identity)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Identities lists every identity with a stored snapshot.
func (b *SQLiteBackend) Identities() ([]string, error) {
	rows, err := b.db.Query(`SELECT identity FROM snapshots ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// #endregion sqlite-backend
