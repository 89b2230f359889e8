package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/config"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/display"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/lockfile"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/output"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recorder"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/store"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/testutil"
)

type instantClock struct{}

func (instantClock) Now() time.Time        { return time.Now() }
func (instantClock) Sleep(d time.Duration) {}

type fixedCollector struct {
	info models.ParticipantInfo
	err  error
}

func (c fixedCollector) CollectParticipantInfo(context.Context) (models.ParticipantInfo, error) {
	return c.info, c.err
}

// autoSurface advances every prompt and, when quitAfter > 0, reports the quit
// key on that poll.
type autoSurface struct {
	mu        sync.Mutex
	polls     int
	quitAfter int
	levels    int
	closed    bool
}

func (s *autoSurface) ShowText(string) error                  { return nil }
func (s *autoSurface) ShowStimulus(string, image.Image) error { return nil }
func (s *autoSurface) WaitKeys(context.Context, ...string) (string, error) {
	return display.KeySpace, nil
}

func (s *autoSurface) PollKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.quitAfter > 0 && s.polls == s.quitAfter {
		return []string{"q"}
	}
	return nil
}

func (s *autoSurface) ShowLevels([]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels++
}

func (s *autoSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type constLevels struct{}

func (constLevels) Levels() []float64 { return []float64{1, 2, 3} }

func mockDevices(mocks ...*testutil.MockRecorder) DeviceFactory {
	return func(context.Context, config.Config, models.ParticipantInfo) Devices {
		recs := make([]recorder.Recorder, len(mocks))
		for i, m := range mocks {
			recs[i] = m
		}
		return Devices{Recorders: recs, Levels: constLevels{}}
	}
}

func testConfig(t *testing.T, record bool) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Repetitions = 2
	cfg.Record = record
	cfg.GestureDir = testutil.WriteStimuli(t, filepath.Join(root, "images"), "fist", "point")
	cfg.DataDir = filepath.Join(root, "dataset")
	return cfg
}

func participant() models.ParticipantInfo {
	return models.ParticipantInfo{ID: "7", Age: 30, Gender: models.GenderMale, Session: 2, Position: 3}
}

func newTestRunner(t *testing.T, cfg config.Config, surface *autoSurface, st store.Store, mocks ...*testutil.MockRecorder) *Runner {
	t.Helper()
	r, err := NewRunner(cfg,
		WithCollector(fixedCollector{info: participant()}),
		WithSurface(func() (display.Surface, error) { return surface, nil }, nil),
		WithStore(st),
		WithDevices(mockDevices(mocks...)),
		WithClock(instantClock{}),
	)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func TestRunRecordedSession(t *testing.T) {
	cfg := testConfig(t, true)
	emg, leap := testutil.NewMockRecorder(recorder.EMGName), testutil.NewMockRecorder(recorder.MotionName)
	st := store.NewInMemoryStore()
	surface := &autoSurface{}

	res, err := newTestRunner(t, cfg, surface, st, emg, leap).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != models.StateFinished || len(res.Presentations) != 4 {
		t.Errorf("state=%s presentations=%v", res.State, res.Presentations)
	}

	wantDir := filepath.Join(cfg.DataDir, "007", "S2")
	if res.Dir != wantDir {
		t.Errorf("Dir = %q, want %q", res.Dir, wantDir)
	}
	if got := emg.SaveAs(); got != filepath.Join(wantDir, "fpe_pos3_007_S2_rep0_BT.edf") {
		t.Errorf("emg SaveAs = %q", got)
	}
	if got := leap.SaveAs(); got != filepath.Join(wantDir, "fpe_pos3_007_S2_rep0_BT.csv") {
		t.Errorf("leap SaveAs = %q", got)
	}

	data, err := os.ReadFile(filepath.Join(wantDir, ManifestFileName))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest models.ParticipantInfo
	testutil.MustUnmarshalJSON(t, data, &manifest)
	if manifest.ExpName != models.ExperimentName || manifest.Date == "" || manifest.ID != "7" {
		t.Errorf("manifest = %+v", manifest)
	}

	for _, m := range []*testutil.MockRecorder{emg, leap} {
		if m.Starts() != 1 || m.Stops() != 1 || m.Joins() != 1 {
			t.Errorf("%s: starts=%d stops=%d joins=%d", m.Name(), m.Starts(), m.Stops(), m.Joins())
		}
		labels := m.Labels()
		if len(labels) != 9 || labels[8] != models.EndExperimentLabel {
			t.Errorf("%s labels = %v", m.Name(), labels)
		}
	}

	testutil.AssertSessionState(t, st, res.SessionID, models.StateFinished)
	triggers, _ := st.ListTriggers(res.SessionID)
	if len(triggers) != 9 {
		t.Errorf("journaled %d triggers, want 9", len(triggers))
	}
	if !surface.closed {
		t.Error("surface not closed")
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, lockfile.LockFileName)); !os.IsNotExist(err) {
		t.Error("data directory lock not released")
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	cfg := testConfig(t, false)
	emg, leap := testutil.NewMockRecorder(recorder.EMGName), testutil.NewMockRecorder(recorder.MotionName)
	st := store.NewInMemoryStore()

	res, err := newTestRunner(t, cfg, &autoSurface{}, st, emg, leap).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Dir != "" || emg.SaveAs() != "" {
		t.Errorf("dry run configured output: dir=%q saveAs=%q", res.Dir, emg.SaveAs())
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "007")); !os.IsNotExist(err) {
		t.Error("dry run created a participant directory")
	}
	if len(emg.Labels()) != 0 {
		t.Errorf("dry run delivered triggers %v", emg.Labels())
	}
	if emg.Stops() != 1 || emg.Joins() != 1 || leap.Stops() != 1 || leap.Joins() != 1 {
		t.Error("no-op recorders not torn down")
	}
	testutil.AssertTriggerLabels(t, st, res.SessionID, nil)
}

func TestRunQuitStopsOnce(t *testing.T) {
	cfg := testConfig(t, true)
	emg := testutil.NewMockRecorder(recorder.EMGName)
	surface := &autoSurface{quitAfter: 2}

	res, err := newTestRunner(t, cfg, surface, store.NewInMemoryStore(), emg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != models.StateStopped || len(res.Presentations) != 1 {
		t.Errorf("state=%s presentations=%d", res.State, len(res.Presentations))
	}
	if emg.Stops() != 1 || emg.Joins() != 1 {
		t.Errorf("stops=%d joins=%d", emg.Stops(), emg.Joins())
	}
	labels := emg.Labels()
	if labels[len(labels)-1] != models.EndExperimentLabel {
		t.Errorf("labels = %v", labels)
	}
}

func TestRunRecorderStartFailure(t *testing.T) {
	cfg := testConfig(t, true)
	emg, leap := testutil.NewMockRecorder(recorder.EMGName), testutil.NewMockRecorder(recorder.MotionName)
	leap.StartErr = errors.New("device busy")
	st := store.NewInMemoryStore()
	surface := &autoSurface{}

	res, err := newTestRunner(t, cfg, surface, st, emg, leap).Run(context.Background())
	var startErr *recorder.StartError
	if !errors.As(err, &startErr) || startErr.Recorder != recorder.MotionName {
		t.Fatalf("Run() = %v, want StartError for %s", err, recorder.MotionName)
	}
	if emg.Stops() != 1 || emg.Joins() != 1 {
		t.Errorf("started recorder not cleaned up: stops=%d joins=%d", emg.Stops(), emg.Joins())
	}
	if surface.polls != 0 {
		t.Error("trial loop ran after a start failure")
	}
	testutil.AssertSessionState(t, st, res.SessionID, models.StateAborted)
}

func TestRunRunIndexAdvances(t *testing.T) {
	cfg := testConfig(t, true)
	st := store.NewInMemoryStore()

	for want := 0; want < 2; want++ {
		emg := testutil.NewMockRecorder(recorder.EMGName)
		if _, err := newTestRunner(t, cfg, &autoSurface{}, st, emg).Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", want, err)
		}
		if !strings.HasSuffix(emg.SaveAs(), "_rep"+string(rune('0'+want))+"_BT.edf") {
			t.Errorf("run %d SaveAs = %q", want, emg.SaveAs())
		}
		// mocks write nothing, so create the file a real recorder would have
		if err := os.WriteFile(emg.SaveAs(), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunRecoversStaleSessions(t *testing.T) {
	cfg := testConfig(t, false)
	st := store.NewInMemoryStore()
	testutil.SeedSession(t, st, "s_crashed", models.StateRunning)
	var buf bytes.Buffer

	r, err := NewRunner(cfg,
		WithCollector(fixedCollector{info: participant()}),
		WithSurface(func() (display.Surface, error) { return &autoSurface{}, nil }, nil),
		WithStore(st),
		WithDevices(mockDevices(testutil.NewMockRecorder(recorder.EMGName))),
		WithClock(instantClock{}),
		WithOutput(output.NewFormatter(&buf)),
	)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Aborted) != 1 || res.Aborted[0] != "s_crashed" {
		t.Errorf("Aborted = %v", res.Aborted)
	}
	testutil.AssertSessionState(t, st, "s_crashed", models.StateAborted)
	if !strings.Contains(buf.String(), "s_crashed") {
		t.Errorf("operator not told about recovery: %q", buf.String())
	}
}

func TestRunLockedDataDir(t *testing.T) {
	cfg := testConfig(t, true)
	held, err := lockfile.Acquire(cfg.DataDir, "other")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	emg := testutil.NewMockRecorder(recorder.EMGName)
	_, err = newTestRunner(t, cfg, &autoSurface{}, store.NewInMemoryStore(), emg).Run(context.Background())
	var lockErr *lockfile.LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Run() = %v, want LockError", err)
	}
	if emg.Starts() != 0 {
		t.Error("recorder started despite the lock")
	}
}

func TestRunCollectorCancelled(t *testing.T) {
	cfg := testConfig(t, true)
	r, err := NewRunner(cfg, WithCollector(fixedCollector{err: display.ErrCancelled}))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := r.Run(context.Background()); !errors.Is(err, display.ErrCancelled) {
		t.Errorf("Run() = %v, want ErrCancelled", err)
	}
}

func TestNewRunnerRequiresCollector(t *testing.T) {
	if _, err := NewRunner(config.Default()); err == nil {
		t.Error("expected an error without a collector")
	}
}

func TestRunEmptyGestureDirFinishes(t *testing.T) {
	cfg := testConfig(t, true)
	cfg.GestureDir = t.TempDir()
	emg := testutil.NewMockRecorder(recorder.EMGName)

	res, err := newTestRunner(t, cfg, &autoSurface{}, store.NewInMemoryStore(), emg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != models.StateFinished || len(res.Presentations) != 0 {
		t.Errorf("state=%s presentations=%d", res.State, len(res.Presentations))
	}
	if labels := emg.Labels(); len(labels) != 1 || labels[0] != models.EndExperimentLabel {
		t.Errorf("labels = %v", labels)
	}
}

func TestVisualizeStopsAndJoins(t *testing.T) {
	cfg := config.Default()
	emg := testutil.NewMockRecorder(recorder.EMGName)
	sink := &autoSurface{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Visualize(ctx, cfg, mockDevices(emg), sink, nil) }()

	deadline := time.After(2 * time.Second)
	for {
		sink.mu.Lock()
		n := sink.levels
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no levels shown")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Visualize: %v", err)
	}
	if emg.Starts() != 1 || emg.Stops() != 1 || emg.Joins() != 1 {
		t.Errorf("starts=%d stops=%d joins=%d", emg.Starts(), emg.Stops(), emg.Joins())
	}
}

type trackerStatus struct{}

func (trackerStatus) Status() string { return "hand tracking: 110 fps, 2 hand(s)" }

type statusSink struct {
	mu     sync.Mutex
	status []string
}

func (s *statusSink) ShowLevels([]float64) {}

func (s *statusSink) ShowStatus(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = append(s.status, line)
}

func (s *statusSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.status) == 0 {
		return ""
	}
	return s.status[len(s.status)-1]
}

func TestVisualizeShowsTrackerStatus(t *testing.T) {
	cfg := config.Default()
	cfg.Record = true
	emg := testutil.NewMockRecorder(recorder.EMGName)
	leap := testutil.NewMockRecorder(recorder.MotionName)
	devices := func(context.Context, config.Config, models.ParticipantInfo) Devices {
		return Devices{Recorders: []recorder.Recorder{emg, leap}, Levels: constLevels{}, Status: trackerStatus{}}
	}
	sink := &statusSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Visualize(ctx, cfg, devices, sink, nil) }()

	deadline := time.After(2 * time.Second)
	for sink.last() == "" {
		select {
		case <-deadline:
			t.Fatal("no tracker status shown")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Visualize: %v", err)
	}
	if got := sink.last(); got != "hand tracking: 110 fps, 2 hand(s)" {
		t.Errorf("status = %q", got)
	}
	if leap.Starts() != 1 || leap.Stops() != 1 || leap.Joins() != 1 {
		t.Errorf("tracker starts=%d stops=%d joins=%d", leap.Starts(), leap.Stops(), leap.Joins())
	}
}

func TestRecordingExtAndRunIndex(t *testing.T) {
	if RecordingExt(recorder.EMGName) != ".edf" || RecordingExt(recorder.MotionName) != ".csv" {
		t.Error("unexpected device extensions")
	}
	if RecordingExt("imu") != ".imu.dat" {
		t.Errorf("RecordingExt(imu) = %q", RecordingExt("imu"))
	}

	dir := t.TempDir()
	info := participant()
	names := []string{recorder.EMGName, recorder.MotionName}
	if got := NextRunIndex(dir, info, names); got != 0 {
		t.Errorf("empty dir run = %d", got)
	}
	// a csv alone still claims the run
	os.WriteFile(filepath.Join(dir, info.RecordingBaseName(0)+".csv"), nil, 0o644)
	os.WriteFile(filepath.Join(dir, info.RecordingBaseName(1)+".edf"), nil, 0o644)
	if got := NextRunIndex(dir, info, names); got != 2 {
		t.Errorf("run = %d, want 2", got)
	}
}
