// Package store provides storage backends for the experiment session journal.
//
// This file implements an SQLite-backed journal.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// The trigger journal and state updates come from different goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSession(r models.SessionRecord) error {
	_, err := s.db.Exec(`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ParticipantID, r.Session, r.Position, r.Run, r.Record, r.DataDir, string(r.State), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to insert session %s: %w", r.ID, err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "id", r.ID, "participant", r.ParticipantID)
	return nil
}

func (s *SQLiteStore) GetSession(id string) (models.SessionRecord, error) {
	r, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return models.SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "id", id)
		return models.SessionRecord{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateSessionState(id string, state models.RunState) error {
	res, err := s.db.Exec(`UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`, string(state), time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateSessionState failed", "error", err, "id", id)
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	slog.Debug("SQLiteStore UpdateSessionState succeeded", "id", id, "state", state)
	return nil
}

func (s *SQLiteStore) RecordStateChange(c models.StateChange) error {
	_, err := s.db.Exec(`INSERT INTO state_changes (session_id, from_state, to_state, at) VALUES (?, ?, ?, ?)`,
		c.SessionID, string(c.From), string(c.To), c.At)
	if err != nil {
		slog.Error("SQLiteStore RecordStateChange failed", "error", err, "session", c.SessionID)
		return fmt.Errorf("failed to insert state change: %w", err)
	}
	slog.Debug("SQLiteStore RecordStateChange succeeded", "session", c.SessionID, "from", c.From, "to", c.To)
	return nil
}

func (s *SQLiteStore) ListStateChanges(sessionID string) ([]models.StateChange, error) {
	rows, err := s.db.Query(`SELECT session_id, from_state, to_state, at FROM state_changes WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore ListStateChanges query failed", "error", err)
		return nil, fmt.Errorf("failed to query state changes: %w", err)
	}
	return scanStateChanges(rows)
}

func (s *SQLiteStore) AppendTrigger(t models.TriggerRecord) error {
	_, err := s.db.Exec(`INSERT INTO triggers (session_id, seq, label, at) VALUES (?, ?, ?, ?)`, t.SessionID, t.Seq, t.Label, t.At)
	if err != nil {
		slog.Error("SQLiteStore AppendTrigger failed", "error", err, "session", t.SessionID, "seq", t.Seq)
		return fmt.Errorf("failed to insert trigger %d: %w", t.Seq, err)
	}
	slog.Debug("SQLiteStore AppendTrigger succeeded", "session", t.SessionID, "seq", t.Seq, "label", t.Label)
	return nil
}

func (s *SQLiteStore) ListTriggers(sessionID string) ([]models.TriggerRecord, error) {
	rows, err := s.db.Query(`SELECT session_id, seq, label, at FROM triggers WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore ListTriggers query failed", "error", err)
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	return scanTriggers(rows)
}

func (s *SQLiteStore) ListSessionsByState(states ...models.RunState) ([]models.SessionRecord, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE state IN (`+placeholders+`) ORDER BY created_at`, stateArgs(states)...)
	if err != nil {
		slog.Error("SQLiteStore ListSessionsByState query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	out, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore ListSessionsByState succeeded", "count", len(out))
	return out, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
