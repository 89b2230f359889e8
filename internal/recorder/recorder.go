// Package recorder provides the biosignal recorder handles driven by the experiment.
//
// Every recorder runs a background worker started by Start, signalled by Stop and
// awaited by Join, and keeps an ordered, append-only annotation log.
package recorder

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("recorder already started")
	ErrNotStarted     = errors.New("recorder not started")
)

// Annotation is one entry of a recorder's annotation log.
type Annotation struct {
	// Onset is measured from Start; zero for annotations added before Start.
	Onset time.Duration
	Label string
}

// Recorder is a data-acquisition service controlled by the session.
type Recorder interface {
	Name() string
	// SetSaveAs sets the output path. It must be called before Start.
	SetSaveAs(path string)
	SaveAs() string
	Start() error
	Stop() error
	Join() error
	AddAnnotation(label string)
	Annotations() []Annotation
}

// StartError reports which recorder failed to start.
type StartError struct {
	Recorder string
	Cause    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start recorder %s: %v", e.Recorder, e.Cause)
}

func (e *StartError) Unwrap() error {
	return e.Cause
}
