// Package sqlstore keeps the audit chain in SQLite. Rows hold the exact
// serialized line so the chain verifies the same way as the JSONL log.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/sentinel/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	kind TEXT NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	line TEXT NOT NULL,
	hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_entries_run_id ON audit_entries(run_id);
`

// Store is a SQLite-backed audit.Recorder.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	prevHash string
}

// OpenSQLite opens dsn, applies the schema and recovers the chain tail.
func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db)
}

// New wraps an open database.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	s := &Store{db: db, prevHash: audit.GenesisHash}

	var hash string
	err := db.QueryRow(`SELECT hash FROM audit_entries ORDER BY id DESC LIMIT 1`).Scan(&hash)
	switch {
	case err == nil:
		s.prevHash = hash
	case errors.Is(err, sql.ErrNoRows):
	default:
		_ = db.Close()
		return nil, fmt.Errorf("audit: read chain tail: %w", err)
	}
	return s, nil
}

// Record implements audit.Recorder.
func (s *Store) Record(entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := audit.Seal(&entry, s.prevHash)
	if err != nil {
		return err
	}
	hash := audit.HashLine(line)

	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO audit_entries (ts, kind, run_id, line, hash) VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Kind, entry.RunID, string(line), hash); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	s.prevHash = hash
	return nil
}

// Lines returns every serialized entry in insertion order.
func (s *Store) Lines(ctx context.Context) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM audit_entries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, []byte(line))
	}
	return out, rows.Err()
}

// Verify validates the chain stored in the database.
func (s *Store) Verify(ctx context.Context) audit.VerifyResult {
	lines, err := s.Lines(ctx)
	if err != nil {
		return audit.VerifyResult{Error: err.Error()}
	}
	var v audit.Verifier
	for _, line := range lines {
		if res := v.Step(line); res != nil {
			return *res
		}
	}
	return v.Result()
}

// Tail returns the last n entries matching filter.
func (s *Store) Tail(ctx context.Context, n int, filter audit.Filter) (*audit.TailResult, error) {
	lines, err := s.Lines(ctx)
	if err != nil {
		return nil, err
	}
	return audit.TailLines(lines, n, filter), nil
}

// DB exposes the handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
