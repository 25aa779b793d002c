// Package history persists a record of past calls in a local SQLite
// database: which agent was called, which cloned voice it spoke with, when,
// for how long, and how teardown went. The store is what lets the app offer
// "use the voice from the last call" across restarts.
package history

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("history: not found")

// Record is one finished call.
type Record struct {
	ID              int64
	AgentID         string
	VoiceID         string
	VoiceName       string
	StartedAt       time.Time
	Duration        time.Duration
	TeardownOutcome string
}

// Store is a SQLite-backed call history. By default it uses a shared
// in-memory database that is lost when the process ends; pass a file path
// for persistence.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (and if necessary creates) the history database at dsn.
// An empty dsn selects an in-memory database.
func Open(ctx context.Context, dsn string) (_ *Store, err error) {
	s := &Store{}

	defer func() {
		if err != nil && s.db != nil {
			if e := s.db.Close(); e != nil {
				err = errors.Join(err, e)
			}
		}
	}()

	s.db, err = sql.Open("sqlite3", cmp.Or(dsn, "file::memory:?cache=shared"))
	if err != nil {
		return nil, fmt.Errorf("history: opening database: %w", err)
	}
	if _, err = s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("history: setting journal mode: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS calls (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id         TEXT NOT NULL,
			voice_id         TEXT NOT NULL,
			voice_name       TEXT NOT NULL,
			started_at       TIMESTAMP NOT NULL,
			duration_ms      INTEGER NOT NULL,
			teardown_outcome TEXT NOT NULL,
			created_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls(started_at DESC);
	`)
	if err != nil {
		return nil, fmt.Errorf("history: creating schema: %w", err)
	}
	return s, nil
}

// Add inserts a finished call and returns its assigned ID.
func (s *Store) Add(ctx context.Context, r Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (agent_id, voice_id, voice_name, started_at, duration_ms, teardown_outcome)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.AgentID, r.VoiceID, r.VoiceName, r.StartedAt.UTC(), r.Duration.Milliseconds(), r.TeardownOutcome)
	if err != nil {
		return 0, fmt.Errorf("history: inserting call: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: reading insert id: %w", err)
	}
	return id, nil
}

// Recent returns the latest calls, newest first. limit <= 0 returns all.
func (s *Store) Recent(ctx context.Context, limit int) (_ []Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := `
		SELECT id, agent_id, voice_id, voice_name, started_at, duration_ms, teardown_outcome
		FROM calls ORDER BY started_at DESC, id DESC
	`
	var rows *sql.Rows
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, fmt.Errorf("history: querying calls: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var durMS int64
		if err := rows.Scan(&r.ID, &r.AgentID, &r.VoiceID, &r.VoiceName, &r.StartedAt, &durMS, &r.TeardownOutcome); err != nil {
			return nil, fmt.Errorf("history: scanning call: %w", err)
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating calls: %w", err)
	}
	return records, nil
}

// LastVoice returns the voice used on the most recent call.
func (s *Store) LastVoice(ctx context.Context) (voiceID, voiceName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT voice_id, voice_name FROM calls
		ORDER BY started_at DESC, id DESC LIMIT 1
	`)
	if err := row.Scan(&voiceID, &voiceName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("history: querying last voice: %w", err)
	}
	return voiceID, voiceName, nil
}

// Ping verifies the database connection. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
