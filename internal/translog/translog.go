// Package translog records every applied transition in SQLite, so tables can be
// audited or rebuilt by replay.
package translog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS transition_log (
	id              TEXT PRIMARY KEY,
	identity        TEXT NOT NULL,
	state_key       TEXT NOT NULL,
	action          INTEGER NOT NULL,
	reward          REAL NOT NULL,
	next_state_key  TEXT NOT NULL,
	done            INTEGER NOT NULL,
	old_q           REAL NOT NULL,
	new_q           REAL NOT NULL,
	visits          INTEGER NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS transition_log_identity ON transition_log(identity, created_at);
`

// createdLayout is fixed-width UTC so that created_at sorts chronologically as text.
const createdLayout = "2006-01-02T15:04:05.000000000Z"

// #endregion schema

// #region log

// Log appends transitions to a SQLite table.
type Log struct {
	db *sql.DB
}

// Open opens the database at dbPath and creates the table if needed.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	l, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an existing database, creating the table if needed.
func New(db *sql.DB) (*Log, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record writes one transition, assigning ID and CreatedAt when unset. It
// returns the stored entry.
func (l *Log) Record(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(
		`INSERT INTO transition_log (id, identity, state_key, action, reward, next_state_key, done, old_q, new_q, visits, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Identity, e.StateKey, e.Action, e.Reward, e.NextStateKey,
		boolToInt(e.Done), e.OldQ, e.NewQ, e.Visits,
		e.CreatedAt.UTC().Format(createdLayout),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("log transition: %w", err)
	}
	return e, nil
}

// List returns the most recent transitions for identity, oldest first. A
// non-positive limit returns every transition.
func (l *Log) List(identity string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.Query(
		`SELECT id, identity, state_key, action, reward, next_state_key, done, old_q, new_q, visits, created_at
		 FROM transition_log WHERE identity = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		identity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var done int
		var createdStr string
		if err := rows.Scan(&e.ID, &e.Identity, &e.StateKey, &e.Action, &e.Reward, &e.NextStateKey,
			&done, &e.OldQ, &e.NewQ, &e.Visits, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Done = done != 0
		e.CreatedAt, _ = time.Parse(createdLayout, createdStr)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion log
