// Package session runs one acquisition session end to end: participant info,
// data directory and manifest, recorder start, the trial loop with live level
// display, and the final report.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/config"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/display"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/experiment"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/lockfile"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/output"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recorder"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recovery"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/stimulus"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/store"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/trigger"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/util"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/visualize"
)

// ManifestFileName is the per-session participant manifest.
const ManifestFileName = "log.txt"

// ErrTeardownSkipped means the trial loop returned without stopping the recorders.
var ErrTeardownSkipped = errors.New("trial loop returned without recorder teardown")

// Opts holds the collaborators of a Runner.
type Opts struct {
	Collector display.InfoCollector
	Open      experiment.SurfaceOpener
	Fallback  func() display.Surface
	Store     store.Store
	Devices   DeviceFactory
	Clock     experiment.Clock
	Output    *output.Formatter
}

// Option configures a Runner.
type Option func(*Opts)

// WithCollector sets the participant dialog.
func WithCollector(c display.InfoCollector) Option {
	return func(o *Opts) { o.Collector = c }
}

// WithSurface sets how the participant display is opened and its fallback.
func WithSurface(open experiment.SurfaceOpener, fallback func() display.Surface) Option {
	return func(o *Opts) {
		o.Open = open
		o.Fallback = fallback
	}
}

// WithStore sets the session journal.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithDevices replaces DefaultDevices.
func WithDevices(f DeviceFactory) Option {
	return func(o *Opts) { o.Devices = f }
}

// WithClock replaces the wall clock of the trial loop.
func WithClock(c experiment.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithOutput sets where operator messages go.
func WithOutput(f *output.Formatter) Option {
	return func(o *Opts) { o.Output = f }
}

// Result summarizes a completed session.
type Result struct {
	SessionID     string
	Participant   models.ParticipantInfo
	State         models.RunState
	Presentations []string
	// Dir is the session data directory; empty for dry runs.
	Dir       string
	Recorders []recorder.Recorder
	Aborted   []string
}

// Runner runs sessions with a fixed configuration.
type Runner struct {
	cfg  config.Config
	opts Opts
}

// NewRunner creates a Runner. A collector is required; the store defaults to an
// in-memory journal.
func NewRunner(cfg config.Config, opts ...Option) (*Runner, error) {
	o := Opts{Devices: DefaultDevices, Clock: experiment.RealClock}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Collector == nil {
		return nil, errors.New("session: participant info collector is required")
	}
	if o.Store == nil {
		o.Store = store.NewInMemoryStore()
	}
	if o.Output == nil {
		o.Output = output.NewFormatter(io.Discard)
	}
	if o.Fallback == nil {
		o.Fallback = func() display.Surface { return display.NewConsole(os.Stdin, os.Stdout) }
	}
	return &Runner{cfg: cfg, opts: o}, nil
}

// Run executes one session. Recorder start failures abort before the first
// trial; recorder stop and join failures are returned after teardown.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var res Result

	info, err := r.opts.Collector.CollectParticipantInfo(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to collect participant info: %w", err)
	}
	if err := info.Validate(); err != nil {
		return res, fmt.Errorf("invalid participant info: %w", err)
	}
	res.Participant = info
	slog.Info("Participant info collected", "participant", info.PaddedID(), "session", info.Session, "position", info.Position)

	stimuli, err := stimulus.Load(r.cfg.GestureDir)
	if err != nil && !errors.Is(err, stimulus.ErrNoStimuli) {
		return res, err
	}
	if err != nil {
		slog.Warn("No gesture stimuli found, the session will end immediately", "dir", r.cfg.GestureDir)
	}
	r.opts.Output.Stimuli(len(stimuli), r.cfg.GestureDir)

	lock, err := lockfile.Acquire(r.cfg.DataDir, fmt.Sprintf("%s/S%d", info.PaddedID(), info.Session))
	if err != nil {
		return res, err
	}
	defer lock.Release()

	// Only after the lock is held can an unfinished journal row be stale.
	recoverer := recovery.NewSessionRecoverer(nil)
	rm := recovery.NewRecoveryManager(r.opts.Store)
	rm.RegisterRecoverable(recoverer)
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Error("Journal recovery failed", "error", err)
	}
	res.Aborted = append([]string(nil), recoverer.Aborted...)
	r.opts.Output.RecoveredSessions(res.Aborted)

	devices := r.opts.Devices(ctx, r.cfg, info)
	res.Recorders = devices.Recorders

	run := 0
	if r.cfg.Record {
		info = info.WithRecordingExtras(time.Now())
		res.Participant = info
		res.Dir = info.SessionDir(r.cfg.DataDir)
		if err := prepareSessionDir(res.Dir, info); err != nil {
			return res, err
		}
		run = NextRunIndex(res.Dir, info, recorderNames(devices.Recorders))
		paths := make([]string, 0, len(devices.Recorders))
		for _, rec := range devices.Recorders {
			p := filepath.Join(res.Dir, info.RecordingBaseName(run)+RecordingExt(rec.Name()))
			rec.SetSaveAs(p)
			paths = append(paths, p)
		}
		r.opts.Output.SavingTo(paths...)
	} else {
		r.opts.Output.DryRun()
	}

	res.SessionID = util.GenerateSessionID()
	journal := r.createSession(res.SessionID, info, run, res.Dir)

	var targets []recorder.Recorder
	var emitterOpts []trigger.Option
	if r.cfg.Record {
		targets = devices.Recorders
		if journal != nil {
			emitterOpts = append(emitterOpts, trigger.WithJournal(journal, res.SessionID))
		}
	}

	sink := &lazySink{}
	ctrlOpts := []experiment.Option{
		experiment.WithClock(r.opts.Clock),
		experiment.WithRecorders(devices.Recorders...),
		experiment.WithEmitter(trigger.NewEmitter(targets, emitterOpts...)),
		experiment.WithSurface(sink.wrap(r.opts.Open), sink.wrapFallback(r.opts.Fallback)),
	}
	if journal != nil {
		ctrlOpts = append(ctrlOpts, experiment.WithJournal(journal, res.SessionID))
	}
	ctrl, err := experiment.New(r.cfg.Session(), stimuli, ctrlOpts...)
	if err != nil {
		r.abort(journal, res.SessionID)
		return res, fmt.Errorf("failed to set up experiment: %w", err)
	}

	if err := startAll(devices.Recorders); err != nil {
		r.abort(journal, res.SessionID)
		return res, err
	}

	started := time.Now()
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		defer cancelMonitor()
		return ctrl.Run(ctx)
	})
	if r.cfg.Visualize && devices.Levels != nil {
		g.Go(func() error {
			return visualize.NewMonitor(devices.Levels, sink, 0).Run(monitorCtx)
		})
	}
	runErr := g.Wait()
	cancelMonitor()

	res.State = ctrl.State()
	res.Presentations = ctrl.Presentations()
	if !ctrl.TornDown() {
		return res, ErrTeardownSkipped
	}
	r.opts.Output.SessionComplete(string(res.State), len(res.Presentations), time.Since(started), res.Dir)
	slog.Info("Session complete", "session_id", res.SessionID, "state", res.State, "presentations", len(res.Presentations))
	return res, runErr
}

// createSession journals the session row. Journal failures are not fatal; the
// session then runs without a journal.
func (r *Runner) createSession(id string, info models.ParticipantInfo, run int, dir string) store.Store {
	now := time.Now()
	rec := models.SessionRecord{
		ID:            id,
		ParticipantID: info.PaddedID(),
		Session:       info.Session,
		Position:      info.Position,
		Run:           run,
		Record:        r.cfg.Record,
		DataDir:       dir,
		State:         models.StateNotStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.opts.Store.CreateSession(rec); err != nil {
		slog.Error("Failed to journal session, continuing without journal", "error", err, "session_id", id)
		return nil
	}
	return r.opts.Store
}

func (r *Runner) abort(journal store.Store, id string) {
	if journal == nil {
		return
	}
	if err := journal.UpdateSessionState(id, models.StateAborted); err != nil {
		slog.Error("Failed to mark session aborted", "error", err, "session_id", id)
	}
}

// startAll starts recorders in order. If one fails, those already started are
// stopped and joined before the start error is returned.
func startAll(recs []recorder.Recorder) error {
	for i, rec := range recs {
		if err := rec.Start(); err != nil {
			slog.Error("Recorder failed to start, aborting session", "recorder", rec.Name(), "error", err)
			for _, s := range recs[:i] {
				if serr := s.Stop(); serr != nil {
					slog.Error("Recorder stop failed", "recorder", s.Name(), "error", serr)
				}
			}
			for _, s := range recs[:i] {
				if jerr := s.Join(); jerr != nil {
					slog.Error("Recorder join failed", "recorder", s.Name(), "error", jerr)
				}
			}
			return err
		}
	}
	return nil
}

func prepareSessionDir(dir string, info models.ParticipantInfo) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	slog.Debug("Session manifest written", "path", path)
	return nil
}

func recorderNames(recs []recorder.Recorder) []string {
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Name()
	}
	return names
}

// lazySink forwards levels to the surface once it is open and can show them.
type lazySink struct {
	target atomic.Pointer[display.LevelSink]
}

func (s *lazySink) wrap(open experiment.SurfaceOpener) experiment.SurfaceOpener {
	if open == nil {
		return nil
	}
	return func() (display.Surface, error) {
		surface, err := open()
		if err != nil {
			return nil, err
		}
		s.attach(surface)
		return surface, nil
	}
}

func (s *lazySink) wrapFallback(fallback func() display.Surface) func() display.Surface {
	return func() display.Surface {
		surface := fallback()
		s.attach(surface)
		return surface
	}
}

func (s *lazySink) attach(surface display.Surface) {
	if ls, ok := surface.(display.LevelSink); ok {
		s.target.Store(&ls)
	}
}

func (s *lazySink) ShowLevels(levels []float64) {
	if t := s.target.Load(); t != nil {
		(*t).ShowLevels(levels)
	}
}
