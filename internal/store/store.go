// Package store provides storage backends for the experiment session journal.
//
// The journal keeps one row per session, every controller state change and a
// copy of every trigger delivered to the recorders. It includes an in-memory
// store plus SQLite and PostgreSQL backends.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
)

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Store is the session journal.
type Store interface {
	CreateSession(s models.SessionRecord) error
	GetSession(id string) (models.SessionRecord, error)
	UpdateSessionState(id string, state models.RunState) error
	RecordStateChange(c models.StateChange) error
	ListStateChanges(sessionID string) ([]models.StateChange, error)
	AppendTrigger(t models.TriggerRecord) error
	ListTriggers(sessionID string) ([]models.TriggerRecord, error)
	ListSessionsByState(states ...models.RunState) ([]models.SessionRecord, error)
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" for
// PostgreSQL URLs or keyword strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the backend selected by the DSN. An empty DSN yields an in-memory store.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Debug("No store DSN set, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

// InMemoryStore is a simple in-memory journal.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.SessionRecord
	changes  map[string][]models.StateChange
	triggers map[string][]models.TriggerRecord
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.SessionRecord),
		changes:  make(map[string][]models.StateChange),
		triggers: make(map[string][]models.TriggerRecord),
	}
}

func (s *InMemoryStore) CreateSession(r models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[r.ID]; ok {
		return fmt.Errorf("session %s already exists", r.ID)
	}
	s.sessions[r.ID] = r
	return nil
}

func (s *InMemoryStore) GetSession(id string) (models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[id]
	if !ok {
		return models.SessionRecord{}, ErrSessionNotFound
	}
	return r, nil
}

func (s *InMemoryStore) UpdateSessionState(id string, state models.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	r.State = state
	r.UpdatedAt = time.Now()
	s.sessions[id] = r
	return nil
}

func (s *InMemoryStore) RecordStateChange(c models.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[c.SessionID] = append(s.changes[c.SessionID], c)
	return nil
}

func (s *InMemoryStore) ListStateChanges(sessionID string) ([]models.StateChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.StateChange(nil), s.changes[sessionID]...), nil
}

func (s *InMemoryStore) AppendTrigger(t models.TriggerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[t.SessionID] = append(s.triggers[t.SessionID], t)
	return nil
}

func (s *InMemoryStore) ListTriggers(sessionID string) ([]models.TriggerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TriggerRecord(nil), s.triggers[sessionID]...), nil
}

func (s *InMemoryStore) ListSessionsByState(states ...models.RunState) ([]models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SessionRecord
	for _, r := range s.sessions {
		for _, st := range states {
			if r.State == st {
				out = append(out, r)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
