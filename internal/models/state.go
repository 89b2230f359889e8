// Package models defines run-state and persistence structures for experiment sessions.
package models

import (
	"fmt"
	"time"
)

// RunState is the state of the experiment controller.
type RunState string

const (
	StateNotStarted RunState = "not_started"
	StateRunning    RunState = "running"
	StatePaused     RunState = "paused"
	StateStopped    RunState = "stopped"
	StateFinished   RunState = "finished"
	// StateAborted marks a session found unfinished in the journal at startup.
	StateAborted RunState = "aborted"
)

// IsTerminal reports whether no further transitions leave the state.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateStopped, StateFinished, StateAborted:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[RunState][]RunState{
	StateNotStarted: {StateRunning, StateStopped, StateFinished},
	StateRunning:    {StatePaused, StateStopped, StateFinished},
	StatePaused:     {StateRunning, StateStopped},
}

// CanTransition reports whether the controller may move from one state to another.
func CanTransition(from, to RunState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when a state change is not permitted.
type TransitionError struct {
	From RunState
	To   RunState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid run state transition %s -> %s", e.From, e.To)
}

// SessionRecord is the journal row describing one session.
type SessionRecord struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	Session       int       `json:"session"`
	Position      int       `json:"position"`
	Run           int       `json:"run"`
	Record        bool      `json:"record"`
	DataDir       string    `json:"data_dir,omitempty"`
	State         RunState  `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StateChange records one controller state transition.
type StateChange struct {
	SessionID string    `json:"session_id"`
	From      RunState  `json:"from_state"`
	To        RunState  `json:"to_state"`
	At        time.Time `json:"at"`
}

// TriggerRecord is the journal copy of one trigger written to a recorder.
type TriggerRecord struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Label     string    `json:"label"`
	At        time.Time `json:"at"`
}
