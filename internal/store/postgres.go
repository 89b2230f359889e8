// Package store provides storage backends for the experiment session journal.
//
// This file implements a PostgreSQL-backed journal for labs sharing one database.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateSession(r models.SessionRecord) error {
	_, err := s.db.Exec(`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.ParticipantID, r.Session, r.Position, r.Run, r.Record, r.DataDir, string(r.State), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to insert session %s: %w", r.ID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "id", r.ID, "participant", r.ParticipantID)
	return nil
}

func (s *PostgresStore) GetSession(id string) (models.SessionRecord, error) {
	r, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return models.SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "id", id)
		return models.SessionRecord{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateSessionState(id string, state models.RunState) error {
	res, err := s.db.Exec(`UPDATE sessions SET state = $1, updated_at = $2 WHERE id = $3`, string(state), time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore UpdateSessionState failed", "error", err, "id", id)
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	slog.Debug("PostgresStore UpdateSessionState succeeded", "id", id, "state", state)
	return nil
}

func (s *PostgresStore) RecordStateChange(c models.StateChange) error {
	_, err := s.db.Exec(`INSERT INTO state_changes (session_id, from_state, to_state, at) VALUES ($1, $2, $3, $4)`,
		c.SessionID, string(c.From), string(c.To), c.At)
	if err != nil {
		slog.Error("PostgresStore RecordStateChange failed", "error", err, "session", c.SessionID)
		return fmt.Errorf("failed to insert state change: %w", err)
	}
	slog.Debug("PostgresStore RecordStateChange succeeded", "session", c.SessionID, "from", c.From, "to", c.To)
	return nil
}

func (s *PostgresStore) ListStateChanges(sessionID string) ([]models.StateChange, error) {
	rows, err := s.db.Query(`SELECT session_id, from_state, to_state, at FROM state_changes WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("PostgresStore ListStateChanges query failed", "error", err)
		return nil, fmt.Errorf("failed to query state changes: %w", err)
	}
	return scanStateChanges(rows)
}

func (s *PostgresStore) AppendTrigger(t models.TriggerRecord) error {
	_, err := s.db.Exec(`INSERT INTO triggers (session_id, seq, label, at) VALUES ($1, $2, $3, $4)`, t.SessionID, t.Seq, t.Label, t.At)
	if err != nil {
		slog.Error("PostgresStore AppendTrigger failed", "error", err, "session", t.SessionID, "seq", t.Seq)
		return fmt.Errorf("failed to insert trigger %d: %w", t.Seq, err)
	}
	slog.Debug("PostgresStore AppendTrigger succeeded", "session", t.SessionID, "seq", t.Seq, "label", t.Label)
	return nil
}

func (s *PostgresStore) ListTriggers(sessionID string) ([]models.TriggerRecord, error) {
	rows, err := s.db.Query(`SELECT session_id, seq, label, at FROM triggers WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		slog.Error("PostgresStore ListTriggers query failed", "error", err)
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	return scanTriggers(rows)
}

func (s *PostgresStore) ListSessionsByState(states ...models.RunState) ([]models.SessionRecord, error) {
	if len(states) == 0 {
		return nil, nil
	}
	ph := make([]string, len(states))
	for i := range states {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE state IN (`+strings.Join(ph, ", ")+`) ORDER BY created_at`, stateArgs(states)...)
	if err != nil {
		slog.Error("PostgresStore ListSessionsByState query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	out, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	slog.Debug("PostgresStore ListSessionsByState succeeded", "count", len(out))
	return out, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
