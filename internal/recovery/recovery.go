// Package recovery reconciles the session journal after an unclean exit.
//
// A session whose journal row is still NotStarted, Running or Paused at startup
// belonged to a process that died before teardown. Its recordings may be
// truncated, so the row is marked Aborted and the partial files are reported.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/store"
)

// Recoverable is a component that repairs its persisted state at startup.
type Recoverable interface {
	RecoverState(ctx context.Context, st store.Store) error
}

// RecoveryManager runs every registered Recoverable against one store.
type RecoveryManager struct {
	store        store.Store
	recoverables []Recoverable
}

// NewRecoveryManager creates a manager for st.
func NewRecoveryManager(st store.Store) *RecoveryManager {
	return &RecoveryManager{store: st}
}

// RegisterRecoverable adds a component to recover.
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RecoverAll runs every component. A failing component does not stop the others.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Debug("Starting journal recovery", "components", len(rm.recoverables))

	failed := 0
	for _, r := range rm.recoverables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.RecoverState(ctx, rm.store); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", fmt.Sprintf("%T", r))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(rm.recoverables))
	}
	return nil
}

// SessionRecoverer marks unfinished sessions Aborted.
type SessionRecoverer struct {
	now func() time.Time
	// Aborted collects the IDs marked during the last RecoverState call.
	Aborted []string
}

// NewSessionRecoverer creates a SessionRecoverer. now may be nil for the wall clock.
func NewSessionRecoverer(now func() time.Time) *SessionRecoverer {
	if now == nil {
		now = time.Now
	}
	return &SessionRecoverer{now: now}
}

var unfinished = []models.RunState{models.StateNotStarted, models.StateRunning, models.StatePaused}

// RecoverState implements Recoverable.
func (r *SessionRecoverer) RecoverState(ctx context.Context, st store.Store) error {
	sessions, err := st.ListSessionsByState(unfinished...)
	if err != nil {
		return fmt.Errorf("failed to list unfinished sessions: %w", err)
	}
	r.Aborted = r.Aborted[:0]
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		change := models.StateChange{SessionID: s.ID, From: s.State, To: models.StateAborted, At: r.now()}
		if err := st.RecordStateChange(change); err != nil {
			return fmt.Errorf("failed to journal abort of session %s: %w", s.ID, err)
		}
		if err := st.UpdateSessionState(s.ID, models.StateAborted); err != nil {
			return fmt.Errorf("failed to abort session %s: %w", s.ID, err)
		}
		r.Aborted = append(r.Aborted, s.ID)

		slog.Warn("Previous session ended without teardown; recordings may be incomplete",
			"session_id", s.ID, "participant", s.ParticipantID, "session", s.Session,
			"last_state", s.State, "files", PartialRecordings(s.DataDir))
	}
	return nil
}

// PartialRecordings lists the recording files in a session data directory.
func PartialRecordings(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".edf", ".csv":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}
