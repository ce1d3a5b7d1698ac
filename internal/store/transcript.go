// Package store persists conversation transcripts and out-of-band feedback
// annotations to SQLite. The turn log is the source of truth in memory;
// this store is a mirror for post-hoc review, so writes are idempotent and
// failures are logged rather than surfaced to the conversation.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"wildfiregpt/internal/conversation"
	"wildfiregpt/internal/logging"
)

// TranscriptStore wraps the SQLite database.
type TranscriptStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open creates (or opens) the transcript database at path and applies
// migrations.
func Open(path string) (*TranscriptStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writes itself, one connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &TranscriptStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *TranscriptStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transcript (
			session_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (thread_id, turn_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript(session_id)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			thread_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			note TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (thread_id, turn_index)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			profile TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// StoreTurn mirrors one turn. Uses INSERT OR IGNORE for idempotent syncing
// (duplicate turns are silently skipped).
func (s *TranscriptStore) StoreTurn(sessionID, threadID string, turnIndex int, turn conversation.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Storing turn: session=%s thread=%s index=%d role=%s", sessionID, threadID, turnIndex, turn.Role)

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO transcript (session_id, thread_id, turn_index, role, content, tool_call_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, threadID, turnIndex, string(turn.Role), turn.Content, turn.ToolCallID,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store turn %s/%d: %v", threadID, turnIndex, err)
		return err
	}
	return nil
}

// StoredTurn is one persisted transcript row.
type StoredTurn struct {
	ThreadID   string
	TurnIndex  int
	Role       string
	Content    string
	ToolCallID string
	CreatedAt  time.Time
}

// SessionTranscript returns all persisted turns for a session in thread,
// index order.
func (s *TranscriptStore) SessionTranscript(sessionID string) ([]StoredTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT thread_id, turn_index, role, content, tool_call_id, created_at
		 FROM transcript
		 WHERE session_id = ?
		 ORDER BY created_at, thread_id, turn_index`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredTurn
	for rows.Next() {
		var t StoredTurn
		if err := rows.Scan(&t.ThreadID, &t.TurnIndex, &t.Role, &t.Content, &t.ToolCallID, &t.CreatedAt); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// StoreFeedback records an annotation for a turn, replacing any prior note.
func (s *TranscriptStore) StoreFeedback(threadID string, turnIndex int, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO feedback (thread_id, turn_index, note) VALUES (?, ?, ?)
		 ON CONFLICT(thread_id, turn_index) DO UPDATE SET note = excluded.note`,
		threadID, turnIndex, note,
	)
	return err
}

// Feedback returns the annotation for a turn, if present.
func (s *TranscriptStore) Feedback(threadID string, turnIndex int) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var note string
	err := s.db.QueryRow(
		`SELECT note FROM feedback WHERE thread_id = ? AND turn_index = ?`,
		threadID, turnIndex,
	).Scan(&note)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return note, true, nil
}

// SaveSessionState upserts the session's accumulated stage state so a
// conversation can be reviewed after the process exits.
func (s *TranscriptStore) SaveSessionState(sessionID, profile, plan, stageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, profile, plan, stage, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_id) DO UPDATE SET
			profile = excluded.profile,
			plan = excluded.plan,
			stage = excluded.stage,
			updated_at = CURRENT_TIMESTAMP`,
		sessionID, profile, plan, stageName,
	)
	return err
}

// SessionState reads back a persisted session's accumulated state.
func (s *TranscriptStore) SessionState(sessionID string) (profile, plan, stageName string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRow(
		`SELECT profile, plan, stage FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&profile, &plan, &stageName)
	if err == sql.ErrNoRows {
		return "", "", "", nil
	}
	return profile, plan, stageName, err
}

// ListSessions returns known session IDs, most recently updated first.
func (s *TranscriptStore) ListSessions() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT session_id FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *TranscriptStore) Close() error {
	return s.db.Close()
}
