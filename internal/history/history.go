// Package history persists REPL input across sessions to a small
// embedded sqlite database (modernc.org/sqlite, pure Go, no cgo).
// Each entry is tagged with a session UUID (github.com/google/uuid)
// so a later audit can tell which REPL process produced which lines,
// and timestamps are rendered with a strftime-compatible layout
// (github.com/ncruces/go-strftime) for readability in ad-hoc SQL
// queries.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed append log of REPL input lines.
type Store struct {
	db        *sql.DB
	sessionID uuid.UUID
}

// Open creates (if needed) the history table in the sqlite file at
// path and starts a new session.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	const schema = `
		CREATE TABLE IF NOT EXISTS history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			line       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{db: db, sessionID: uuid.New()}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append records one line of REPL input under the current session.
func (s *Store) Append(line string) error {
	stamp := strftime.Format("%Y-%m-%d %H:%M:%S", time.Now())
	_, err := s.db.Exec(
		`INSERT INTO history (session_id, line, created_at) VALUES (?, ?, ?)`,
		s.sessionID.String(), line, stamp,
	)
	return err
}

// Entry is one recorded line, returned oldest-first by Recent.
type Entry struct {
	Line      string
	CreatedAt string
}

// Recent returns up to limit of the most recently recorded lines,
// across all sessions, oldest-first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT line, created_at FROM history ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Line, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
