// Package models defines the core data structures for the gesture acquisition controller.
//
// It includes the session configuration, participant information and gesture types
// shared across the scheduler, recorders, controller and session runner.
package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Gender is the participant gender recorded in the session manifest.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
)

// Validation constants for participant information
const (
	// MinSessionNumber is the lowest session number offered by the participant dialog
	MinSessionNumber = 1
	// MaxSessionNumber is the highest session number offered by the participant dialog
	MaxSessionNumber = 10
	// MinPosition is the lowest arm position offered by the participant dialog
	MinPosition = 1
	// MaxPosition is the highest arm position offered by the participant dialog
	MaxPosition = 5
	// ParticipantIDWidth is the zero-padded width of participant IDs in paths
	ParticipantIDWidth = 3
	// ExperimentName is recorded in the manifest of recorded sessions
	ExperimentName = "fpe - real time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyParticipantID   = errors.New("participant ID cannot be empty")
	ErrInvalidParticipantID = errors.New("participant ID must be numeric")
	ErrInvalidAge           = errors.New("age must be a positive number")
	ErrInvalidGender        = errors.New("gender must be Male or Female")
	ErrInvalidSession       = errors.New("session number out of range")
	ErrInvalidPosition      = errors.New("position out of range")
	ErrInvalidRepetitions   = errors.New("repetitions must be positive")
	ErrInvalidDuration      = errors.New("durations must be positive")
	ErrEmptyGestureID       = errors.New("gesture ID cannot be empty")
	ErrDuplicateGesture     = errors.New("duplicate gesture ID")
	ErrEmptyQuitKey         = errors.New("quit key cannot be empty")
)

// IsValidGender checks if the given gender is one of the dialog choices.
func IsValidGender(g Gender) bool {
	switch g {
	case GenderMale, GenderFemale:
		return true
	default:
		return false
	}
}

// Gesture is one stimulus unit presented a fixed number of times per session.
type Gesture struct {
	ID       string `json:"id"`
	Stimulus string `json:"stimulus"` // path to the stimulus image
}

// StartLabel returns the trigger label emitted when the gesture becomes visible.
func (g Gesture) StartLabel() string {
	return "start_" + g.ID
}

// EndLabel returns the trigger label emitted when the gesture presentation ends.
func (g Gesture) EndLabel() string {
	return "end_" + g.ID
}

// EndExperimentLabel marks the end of a recorded session in every recorder log.
const EndExperimentLabel = "end_experiment"

// GestureSet is an ordered collection of distinct gestures sharing one repetition target.
type GestureSet struct {
	gestures []Gesture
	target   int
}

// NewGestureSet validates the gestures and returns a set with the given repetition target.
func NewGestureSet(gestures []Gesture, target int) (GestureSet, error) {
	if target <= 0 {
		return GestureSet{}, ErrInvalidRepetitions
	}
	seen := make(map[string]struct{}, len(gestures))
	for _, g := range gestures {
		if g.ID == "" {
			return GestureSet{}, ErrEmptyGestureID
		}
		if _, ok := seen[g.ID]; ok {
			return GestureSet{}, fmt.Errorf("%w: %s", ErrDuplicateGesture, g.ID)
		}
		seen[g.ID] = struct{}{}
	}
	return GestureSet{gestures: append([]Gesture(nil), gestures...), target: target}, nil
}

// Gestures returns a copy of the gestures in their original order.
func (s GestureSet) Gestures() []Gesture {
	return append([]Gesture(nil), s.gestures...)
}

// Target returns the per-gesture repetition target.
func (s GestureSet) Target() int { return s.target }

// Len returns the number of distinct gestures.
func (s GestureSet) Len() int { return len(s.gestures) }

// TotalPresentations returns the number of presentations a complete session performs.
func (s GestureSet) TotalPresentations() int { return len(s.gestures) * s.target }

// ParticipantInfo holds what the participant dialog collects for one session.
type ParticipantInfo struct {
	ID       string `json:"participant" toml:"participant"`
	Age      int    `json:"age" toml:"age"`
	Gender   Gender `json:"gender" toml:"gender"`
	Session  int    `json:"session" toml:"session"`
	Position int    `json:"position" toml:"position"`
	// Populated only for recorded sessions.
	Date    string `json:"date,omitempty" toml:"date,omitempty"`
	ExpName string `json:"expName,omitempty" toml:"expName,omitempty"`
}

// Validate checks the participant information against the dialog choices.
func (p *ParticipantInfo) Validate() error {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return ErrEmptyParticipantID
	}
	if !isDigits(id) {
		return ErrInvalidParticipantID
	}
	if p.Age <= 0 {
		return ErrInvalidAge
	}
	if !IsValidGender(p.Gender) {
		return ErrInvalidGender
	}
	if p.Session < MinSessionNumber || p.Session > MaxSessionNumber {
		return ErrInvalidSession
	}
	if p.Position < MinPosition || p.Position > MaxPosition {
		return ErrInvalidPosition
	}
	return nil
}

// isDigits reports whether s consists of ASCII digits only; signs are not accepted.
func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// PaddedID returns the participant ID left-padded with zeros to ParticipantIDWidth.
func (p ParticipantInfo) PaddedID() string {
	id := strings.TrimSpace(p.ID)
	if len(id) >= ParticipantIDWidth {
		return id
	}
	return strings.Repeat("0", ParticipantIDWidth-len(id)) + id
}

// WithRecordingExtras returns a copy stamped with the date and experiment name.
func (p ParticipantInfo) WithRecordingExtras(now time.Time) ParticipantInfo {
	p.Date = now.Format("2006-01-02_15h04.05.000")
	p.ExpName = ExperimentName
	return p
}

// SessionDir returns <dataDir>/<padded id>/S<session>.
func (p ParticipantInfo) SessionDir(dataDir string) string {
	return filepath.Join(dataDir, p.PaddedID(), fmt.Sprintf("S%d", p.Session))
}

// RecordingBaseName returns the file name stem shared by every recorder of one run.
func (p ParticipantInfo) RecordingBaseName(run int) string {
	return fmt.Sprintf("fpe_pos%d_%s_S%d_rep%d_BT", p.Position, p.PaddedID(), p.Session, run)
}

// SessionConfig is the immutable configuration of one experiment run.
type SessionConfig struct {
	Repetitions     int
	GestureDuration time.Duration
	RestDuration    time.Duration
	GestureDir      string
	Record          bool
	QuitKey         string
	EndHold         time.Duration
}

// Validate performs validation on a SessionConfig structure.
func (c SessionConfig) Validate() error {
	if c.Repetitions <= 0 {
		return ErrInvalidRepetitions
	}
	if c.GestureDuration <= 0 || c.RestDuration < 0 || c.EndHold < 0 {
		return ErrInvalidDuration
	}
	if c.QuitKey == "" {
		return ErrEmptyQuitKey
	}
	return nil
}
