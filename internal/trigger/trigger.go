// Package trigger emits ordered annotation events into the attached recorders.
//
// Emitting a trigger never fails from the caller's point of view: problems are
// logged and the experiment continues.
package trigger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recorder"
)

// Journal persists a copy of every trigger delivered to a recorder.
type Journal interface {
	AppendTrigger(rec models.TriggerRecord) error
}

// Opts holds configuration for an Emitter.
type Opts struct {
	Journal   Journal
	SessionID string
	Now       func() time.Time
}

// Option configures an Emitter.
type Option func(*Opts)

// WithJournal mirrors delivered triggers into j under the given session ID.
func WithJournal(j Journal, sessionID string) Option {
	return func(o *Opts) {
		o.Journal = j
		o.SessionID = sessionID
	}
}

// WithClock overrides the time source used for journal timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Emitter writes trigger labels into recorder annotation logs.
type Emitter struct {
	mu      sync.Mutex
	targets []recorder.Recorder
	opts    Opts
	seq     int
	echoed  []string
}

// NewEmitter creates an Emitter delivering to targets. With no targets every
// trigger is only echoed to the log.
func NewEmitter(targets []recorder.Recorder, opts ...Option) *Emitter {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Emitter{targets: append([]recorder.Recorder(nil), targets...), opts: cfg}
}

// Attached reports whether at least one recorder receives triggers.
func (e *Emitter) Attached() bool {
	return len(e.targets) > 0
}

// Trigger appends label to every attached recorder's annotation log.
func (e *Emitter) Trigger(label string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.targets) == 0 {
		e.echoed = append(e.echoed, label)
		slog.Info("Trigger", "label", label, "recorded", false)
		return
	}

	for _, r := range e.targets {
		e.deliver(r, label)
	}
	e.seq++
	e.journal(label)
}

func (e *Emitter) deliver(r recorder.Recorder, label string) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("Trigger annotation failed", "recorder", r.Name(), "label", label, "panic", p)
		}
	}()
	r.AddAnnotation(label)
	if anns := r.Annotations(); len(anns) > 0 {
		last := anns[len(anns)-1]
		slog.Debug("Trigger annotated", "recorder", r.Name(), "label", last.Label, "onset", last.Onset)
	}
}

func (e *Emitter) journal(label string) {
	if e.opts.Journal == nil {
		return
	}
	rec := models.TriggerRecord{
		SessionID: e.opts.SessionID,
		Seq:       e.seq,
		Label:     label,
		At:        e.opts.Now(),
	}
	if err := e.opts.Journal.AppendTrigger(rec); err != nil {
		slog.Error("Trigger journal append failed", "error", err, "label", label, "seq", e.seq)
	}
}

// Echoed returns the labels emitted while no recorder was attached.
func (e *Emitter) Echoed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.echoed...)
}
