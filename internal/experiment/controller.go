// Package experiment implements the trial loop of a gesture acquisition session.
//
// The Controller sequences gestures, handles pause, resume and quit, emits the
// start/end triggers and owns recorder teardown: every terminating path stops
// all recorders and then joins all of them, exactly once.
package experiment

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/display"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recorder"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/scheduler"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/stimulus"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/trigger"
)

// StateJournal persists run-state transitions.
type StateJournal interface {
	UpdateSessionState(id string, state models.RunState) error
	RecordStateChange(c models.StateChange) error
}

// SurfaceOpener initializes the participant display.
type SurfaceOpener func() (display.Surface, error)

// Opts holds optional collaborators of a Controller.
type Opts struct {
	Clock     Clock
	Recorders []recorder.Recorder
	Emitter   *trigger.Emitter
	Scheduler *scheduler.Scheduler
	Open      SurfaceOpener
	Fallback  func() display.Surface
	Journal   StateJournal
	SessionID string
}

// Option configures a Controller.
type Option func(*Opts)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithRecorders sets the recorders torn down when the session ends.
// They must already be started.
func WithRecorders(rs ...recorder.Recorder) Option {
	return func(o *Opts) { o.Recorders = rs }
}

// WithEmitter sets the trigger emitter.
func WithEmitter(e *trigger.Emitter) Option {
	return func(o *Opts) { o.Emitter = e }
}

// WithScheduler replaces the default scheduler built from the stimuli.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *Opts) { o.Scheduler = s }
}

// WithSurface sets how the display is opened and what to use when that fails.
func WithSurface(open SurfaceOpener, fallback func() display.Surface) Option {
	return func(o *Opts) {
		o.Open = open
		o.Fallback = fallback
	}
}

// WithJournal persists state transitions under sessionID.
func WithJournal(j StateJournal, sessionID string) Option {
	return func(o *Opts) {
		o.Journal = j
		o.SessionID = sessionID
	}
}

// Controller runs the trial loop of one session.
type Controller struct {
	cfg     models.SessionConfig
	images  map[string]image.Image
	opts    Opts
	surface display.Surface

	mu            sync.Mutex
	state         models.RunState
	presentations []string

	teardownOnce sync.Once
	tornDown     atomic.Bool
	teardownErr  error
}

// New creates a Controller for the given stimuli. Without WithScheduler the
// gestures are scheduled cfg.Repetitions times each.
func New(cfg models.SessionConfig, stimuli []stimulus.Stimulus, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := Opts{Clock: RealClock}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Emitter == nil {
		o.Emitter = trigger.NewEmitter(nil)
	}
	if o.Scheduler == nil {
		set, err := models.NewGestureSet(stimulus.Gestures(stimuli), cfg.Repetitions)
		if err != nil {
			return nil, err
		}
		o.Scheduler = scheduler.NewScheduler(set)
	}
	if o.Fallback == nil {
		o.Fallback = func() display.Surface { return nullSurface{} }
	}

	images := make(map[string]image.Image, len(stimuli))
	for _, s := range stimuli {
		images[s.Gesture.ID] = s.Image
	}
	return &Controller{cfg: cfg, images: images, opts: o, state: models.StateNotStarted}, nil
}

// State returns the current run state.
func (c *Controller) State() models.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TornDown reports whether recorder teardown has completed.
func (c *Controller) TornDown() bool {
	return c.tornDown.Load()
}

// Presentations returns the gesture IDs presented so far, in order.
func (c *Controller) Presentations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.presentations...)
}

func (c *Controller) setState(to models.RunState) {
	c.mu.Lock()
	from := c.state
	if !models.CanTransition(from, to) {
		c.mu.Unlock()
		slog.Error("Controller rejected state transition", "error", &models.TransitionError{From: from, To: to})
		return
	}
	c.state = to
	c.mu.Unlock()

	slog.Info("Experiment state changed", "from", from, "to", to)
	if c.opts.Journal == nil {
		return
	}
	change := models.StateChange{SessionID: c.opts.SessionID, From: from, To: to, At: c.opts.Clock.Now()}
	if err := c.opts.Journal.RecordStateChange(change); err != nil {
		slog.Error("Failed to journal state change", "error", err, "to", to)
	}
	if err := c.opts.Journal.UpdateSessionState(c.opts.SessionID, to); err != nil {
		slog.Error("Failed to update session state", "error", err, "to", to)
	}
}

func (c *Controller) openSurface() {
	if c.opts.Open != nil {
		s, err := c.opts.Open()
		if err == nil {
			c.surface = s
			return
		}
		slog.Error("Display initialization failed, continuing on fallback surface", "error", err)
	}
	c.surface = c.opts.Fallback()
}

func (c *Controller) showText(text string) {
	if err := c.surface.ShowText(text); err != nil {
		slog.Warn("Display text failed", "error", err)
	}
}

// Run executes the session until the gestures are exhausted or the participant
// quits, then tears down the recorders. Cancelling ctx is treated as quit.
// The returned error aggregates recorder stop and join failures.
func (c *Controller) Run(ctx context.Context) error {
	c.openSurface()
	slog.Info("Running experiment", "gestures", len(c.images), "repetitions", c.cfg.Repetitions, "record", c.cfg.Record)

	c.showText(WelcomeText)
	if _, err := c.surface.WaitKeys(ctx, display.KeySpace); err != nil {
		slog.Info("Experiment interrupted before start", "reason", err)
		c.setState(models.StateStopped)
		return c.teardown()
	}
	c.countdown(c.cfg.RestDuration)

	g, ok := c.opts.Scheduler.Next()
	if !ok {
		c.setState(models.StateFinished)
		return c.teardown()
	}
	c.setState(models.StateRunning)

	for {
		if ctx.Err() != nil {
			c.setState(models.StateStopped)
			break
		}
		keys := c.surface.PollKeys()
		if slices.Contains(keys, c.cfg.QuitKey) {
			c.setState(models.StateStopped)
			break
		}
		if slices.Contains(keys, display.KeySpace) {
			c.setState(models.StatePaused)
			if !c.pause(ctx) {
				c.setState(models.StateStopped)
				break
			}
			c.setState(models.StateRunning)
			continue
		}

		c.present(g)
		if c.cfg.Record {
			c.opts.Emitter.Trigger(g.EndLabel())
		}
		c.countdown(c.cfg.RestDuration)

		if g, ok = c.opts.Scheduler.Next(); !ok {
			c.setState(models.StateFinished)
			break
		}
	}
	return c.teardown()
}

// pause blocks until the participant resumes (true) or quits (false).
func (c *Controller) pause(ctx context.Context) bool {
	c.showText(PauseText(c.cfg.QuitKey))
	key, err := c.surface.WaitKeys(ctx, display.KeySpace, c.cfg.QuitKey)
	if err != nil {
		slog.Info("Pause interrupted", "reason", err)
		return false
	}
	return key == display.KeySpace
}

func (c *Controller) present(g models.Gesture) {
	img, ok := c.images[g.ID]
	if !ok {
		img = image.NewRGBA(image.Rect(0, 0, stimulus.FrameWidth, stimulus.FrameHeight))
	}
	if err := c.surface.ShowStimulus(GestureCaption, img); err != nil {
		slog.Warn("Display stimulus failed", "gesture", g.ID, "error", err)
	}
	c.opts.Emitter.Trigger(g.StartLabel())

	c.mu.Lock()
	c.presentations = append(c.presentations, g.ID)
	c.mu.Unlock()

	c.opts.Clock.Sleep(c.cfg.GestureDuration)
}

func (c *Controller) countdown(d time.Duration) {
	for i := int(d / time.Second); i >= 1; i-- {
		c.showText(CountdownText(i))
		c.opts.Clock.Sleep(time.Second)
	}
}

// teardown ends the recording: end_experiment when recording, stop every
// recorder, then join every recorder. It runs at most once.
func (c *Controller) teardown() error {
	c.teardownOnce.Do(func() {
		if c.cfg.Record {
			c.opts.Emitter.Trigger(models.EndExperimentLabel)
		}

		var errs []error
		for _, r := range c.opts.Recorders {
			if err := r.Stop(); err != nil {
				slog.Error("Recorder stop failed", "recorder", r.Name(), "error", err)
				errs = append(errs, err)
			}
		}
		for _, r := range c.opts.Recorders {
			if err := r.Join(); err != nil {
				slog.Error("Recorder join failed", "recorder", r.Name(), "error", err)
				errs = append(errs, err)
			}
		}
		c.teardownErr = errors.Join(errs...)
		c.tornDown.Store(true)
		slog.Info("Recorders torn down", "count", len(c.opts.Recorders), "presentations", len(c.Presentations()))

		c.showText(CompleteText)
		c.opts.Clock.Sleep(c.cfg.EndHold)
		if err := c.surface.Close(); err != nil {
			slog.Warn("Display close failed", "error", err)
		}
	})
	return c.teardownErr
}

// nullSurface is used when no display is available at all: it never reports a key
// other than an immediate space, so the session runs unattended.
type nullSurface struct{}

func (nullSurface) ShowText(string) error                  { return nil }
func (nullSurface) ShowStimulus(string, image.Image) error { return nil }
func (nullSurface) WaitKeys(ctx context.Context, keys ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return display.KeySpace, nil
}
func (nullSurface) PollKeys() []string { return nil }
func (nullSurface) Close() error       { return nil }
