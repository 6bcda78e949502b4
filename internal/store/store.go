// Package store persists sessions, per-step records and screenshot
// artifacts in sqlite. Writes are small and non-overlapping per session id;
// the short-term history the decider sees is just the newest five step rows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

// StepRecord is one row of the steps table.
type StepRecord struct {
	SessionID   string
	StepNumber  int
	Phase       string
	ActionType  string
	ActionData  string
	Observation string
	Error       string
}

// HistoryEntry is the compact form injected into decision prompts.
type HistoryEntry struct {
	StepNumber int    `json:"stepNumber"`
	ActionType string `json:"actionType"`
	ActionData string `json:"actionData"`
	Error      string `json:"error,omitempty"`
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		start_url TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		step_number INTEGER NOT NULL,
		phase TEXT NOT NULL,
		action_type TEXT,
		action_data TEXT,
		observation TEXT,
		error TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id);

	CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		step_number INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		file_type TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) CreateSession(ctx context.Context, id, task, startURL string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, task, start_url, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'started', ?, ?)`,
		id, task, startURL, now, now)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

func (s *Store) RecordStep(ctx context.Context, rec StepRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (session_id, step_number, phase, action_type, action_data, observation, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.StepNumber, rec.Phase,
		nullable(rec.ActionType), nullable(rec.ActionData),
		nullable(rec.Observation), nullable(rec.Error),
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

func (s *Store) RecordArtifact(ctx context.Context, sessionID string, stepNumber int, filePath, fileType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (session_id, step_number, file_path, file_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, stepNumber, filePath, fileType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

// RecentSteps returns the newest n action-bearing steps, oldest first.
func (s *Store) RecentSteps(ctx context.Context, sessionID string, n int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_number, COALESCE(action_type, ''), COALESCE(action_data, ''), COALESCE(error, '')
		 FROM steps
		 WHERE session_id = ? AND action_type IS NOT NULL
		 ORDER BY step_number DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("recent steps: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.StepNumber, &e.ActionType, &e.ActionData, &e.Error); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order for the prompt.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
