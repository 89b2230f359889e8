package experiment

import (
	"context"
	"errors"
	"image"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/display"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recorder"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/scheduler"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/stimulus"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/testutil"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/trigger"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
}

// scriptedSurface replays key presses: each PollKeys call consumes one entry of
// polls, each WaitKeys call consumes one entry of waits (space when exhausted).
type scriptedSurface struct {
	mu        sync.Mutex
	polls     [][]string
	waits     []string
	waitErr   error
	texts     []string
	captions  []string
	closed    int
	pollCalls int
}

func (s *scriptedSurface) ShowText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *scriptedSurface) ShowStimulus(caption string, _ image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captions = append(s.captions, caption)
	return nil
}

func (s *scriptedSurface) WaitKeys(ctx context.Context, keys ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waitErr != nil {
		return "", s.waitErr
	}
	if len(s.waits) == 0 {
		return display.KeySpace, nil
	}
	k := s.waits[0]
	s.waits = s.waits[1:]
	return k, nil
}

func (s *scriptedSurface) PollKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollCalls++
	if len(s.polls) == 0 {
		return nil
	}
	k := s.polls[0]
	s.polls = s.polls[1:]
	return k
}

func (s *scriptedSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *scriptedSurface) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func testConfig(record bool) models.SessionConfig {
	return models.SessionConfig{
		Repetitions:     2,
		GestureDuration: 5 * time.Second,
		RestDuration:    3 * time.Second,
		Record:          record,
		QuitKey:         "q",
		EndHold:         3 * time.Second,
	}
}

func testStimuli(ids ...string) []stimulus.Stimulus {
	out := make([]stimulus.Stimulus, 0, len(ids))
	for _, id := range ids {
		out = append(out, stimulus.Stimulus{
			Gesture: models.Gesture{ID: id, Stimulus: id + ".jpg"},
			Image:   image.NewRGBA(image.Rect(0, 0, 4, 4)),
		})
	}
	return out
}

type harness struct {
	ctrl    *Controller
	surface *scriptedSurface
	clock   *fakeClock
	mocks   []*testutil.MockRecorder
}

func newHarness(t *testing.T, cfg models.SessionConfig, surface *scriptedSurface, ids ...string) *harness {
	t.Helper()
	mocks := []*testutil.MockRecorder{testutil.NewMockRecorder("emg"), testutil.NewMockRecorder("leap")}
	recs := make([]recorder.Recorder, 0, len(mocks))
	for _, m := range mocks {
		if err := m.Start(); err != nil {
			t.Fatalf("Start(%s): %v", m.Name(), err)
		}
		recs = append(recs, m)
	}
	stimuli := testStimuli(ids...)
	set, err := models.NewGestureSet(stimulus.Gestures(stimuli), cfg.Repetitions)
	if err != nil {
		t.Fatalf("NewGestureSet: %v", err)
	}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var targets []recorder.Recorder
	if cfg.Record {
		targets = recs
	}
	ctrl, err := New(cfg, stimuli,
		WithClock(clock),
		WithRecorders(recs...),
		WithEmitter(trigger.NewEmitter(targets)),
		WithScheduler(scheduler.NewScheduler(set, scheduler.WithRand(rand.New(rand.NewPCG(7, 11))))),
		WithSurface(func() (display.Surface, error) { return surface, nil }, nil),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{ctrl: ctrl, surface: surface, clock: clock, mocks: mocks}
}

func (h *harness) assertTornDownOnce(t *testing.T) {
	t.Helper()
	if !h.ctrl.TornDown() {
		t.Fatal("TornDown() = false after Run")
	}
	for _, m := range h.mocks {
		if m.Stops() != 1 || m.Joins() != 1 {
			t.Errorf("%s: stops=%d joins=%d, want 1 each", m.Name(), m.Stops(), m.Joins())
		}
	}
	if h.surface.closed != 1 {
		t.Errorf("surface closed %d times", h.surface.closed)
	}
}

func TestRunPresentsEveryGestureTargetTimes(t *testing.T) {
	h := newHarness(t, testConfig(true), &scriptedSurface{}, "A", "B")

	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.ctrl.State() != models.StateFinished {
		t.Errorf("State() = %s, want finished", h.ctrl.State())
	}

	got := h.ctrl.Presentations()
	counts := map[string]int{}
	for _, id := range got {
		counts[id]++
	}
	if len(got) != 4 || counts["A"] != 2 || counts["B"] != 2 {
		t.Errorf("Presentations() = %v", got)
	}
	h.assertTornDownOnce(t)

	labels := h.mocks[0].Labels()
	if len(labels) != 9 {
		t.Fatalf("labels = %v, want 4 start/end pairs plus end_experiment", labels)
	}
	for i := 0; i < 4; i++ {
		start, end := labels[2*i], labels[2*i+1]
		if !strings.HasPrefix(start, "start_") || end != "end_"+strings.TrimPrefix(start, "start_") {
			t.Errorf("pair %d = %q, %q", i, start, end)
		}
	}
	if labels[8] != models.EndExperimentLabel {
		t.Errorf("last label = %q", labels[8])
	}
	if !slices.Equal(h.mocks[0].Labels(), h.mocks[1].Labels()) {
		t.Error("recorders received different triggers")
	}
}

func TestRunTimingFollowsConfig(t *testing.T) {
	cfg := testConfig(false)
	h := newHarness(t, cfg, &scriptedSurface{}, "A", "B")
	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// initial rest, then per presentation gesture + rest, then the end hold
	want := cfg.RestDuration + 4*(cfg.GestureDuration+cfg.RestDuration) + cfg.EndHold
	if h.clock.slept != want {
		t.Errorf("slept %v, want %v", h.clock.slept, want)
	}

	texts := h.surface.Texts()
	if texts[0] != WelcomeText || texts[1] != CountdownText(3) || texts[len(texts)-1] != CompleteText {
		t.Errorf("unexpected text sequence %q", texts)
	}
	if len(h.surface.captions) != 4 || h.surface.captions[0] != GestureCaption {
		t.Errorf("captions = %v", h.surface.captions)
	}
}

func TestQuitMidSessionWhileRecording(t *testing.T) {
	surface := &scriptedSurface{polls: [][]string{nil, {"q"}}}
	h := newHarness(t, testConfig(true), surface, "A", "B")

	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.ctrl.State() != models.StateStopped {
		t.Errorf("State() = %s, want stopped", h.ctrl.State())
	}
	if n := len(h.ctrl.Presentations()); n != 1 {
		t.Errorf("presented %d gestures, want 1", n)
	}
	h.assertTornDownOnce(t)

	labels := h.mocks[0].Labels()
	if len(labels) != 3 || labels[2] != models.EndExperimentLabel {
		t.Errorf("labels = %v", labels)
	}

	// end_experiment precedes every stop, and every stop precedes every join
	events := h.mocks[0].Events()
	iEnd := slices.Index(events, "annotate:"+models.EndExperimentLabel)
	iStop := slices.Index(events, "stop")
	iJoin := slices.Index(events, "join")
	if iEnd < 0 || iEnd > iStop || iStop > iJoin {
		t.Errorf("events out of order: %v", events)
	}
}

func TestQuitWithoutRecordingEmitsNoTriggers(t *testing.T) {
	surface := &scriptedSurface{polls: [][]string{{"q"}}}
	h := newHarness(t, testConfig(false), surface, "A")

	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.ctrl.State() != models.StateStopped {
		t.Errorf("State() = %s", h.ctrl.State())
	}
	for _, m := range h.mocks {
		if len(m.Labels()) != 0 {
			t.Errorf("%s received triggers %v", m.Name(), m.Labels())
		}
	}
	h.assertTornDownOnce(t)
}

func TestStopAndJoinOrderAcrossRecorders(t *testing.T) {
	var mu sync.Mutex
	var order []string
	surface := &scriptedSurface{polls: [][]string{{"q"}}}
	h := newHarness(t, testConfig(true), surface, "A")
	for _, m := range h.mocks {
		m.OnEvent = func(name, event string) {
			if event == "stop" || event == "join" {
				mu.Lock()
				order = append(order, event+":"+name)
				mu.Unlock()
			}
		}
	}

	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"stop:emg", "stop:leap", "join:emg", "join:leap"}
	if !slices.Equal(order, want) {
		t.Errorf("teardown order = %v, want %v", order, want)
	}
}

func TestPauseAndResumeKeepsCounts(t *testing.T) {
	surface := &scriptedSurface{
		polls: [][]string{nil, {display.KeySpace}},
		waits: []string{display.KeySpace, display.KeySpace},
	}
	h := newHarness(t, testConfig(true), surface, "A", "B")

	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.ctrl.State() != models.StateFinished {
		t.Errorf("State() = %s, want finished", h.ctrl.State())
	}
	if n := len(h.ctrl.Presentations()); n != 4 {
		t.Errorf("presented %d gestures after pause, want 4", n)
	}
	if !slices.Contains(surface.Texts(), PauseText("q")) {
		t.Error("pause screen never shown")
	}
	starts, ends := 0, 0
	for _, l := range h.mocks[0].Labels() {
		switch {
		case strings.HasPrefix(l, "start_"):
			starts++
		case strings.HasPrefix(l, "end_") && l != models.EndExperimentLabel:
			ends++
		}
	}
	if starts != 4 || ends != 4 {
		t.Errorf("starts=%d ends=%d, want 4 each", starts, ends)
	}
	h.assertTornDownOnce(t)
}

func TestQuitWhilePausedTearsDown(t *testing.T) {
	surface := &scriptedSurface{
		polls: [][]string{{display.KeySpace}},
		waits: []string{display.KeySpace, "q"},
	}
	h := newHarness(t, testConfig(true), surface, "A", "B")

	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.ctrl.State() != models.StateStopped {
		t.Errorf("State() = %s, want stopped", h.ctrl.State())
	}
	if n := len(h.ctrl.Presentations()); n != 0 {
		t.Errorf("presented %d gestures", n)
	}
	labels := h.mocks[0].Labels()
	if len(labels) != 1 || labels[0] != models.EndExperimentLabel {
		t.Errorf("labels = %v", labels)
	}
	h.assertTornDownOnce(t)
}

func TestQuitOnWelcomeScreen(t *testing.T) {
	surface := &scriptedSurface{waitErr: display.ErrCancelled}
	h := newHarness(t, testConfig(true), surface, "A")

	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.ctrl.State() != models.StateStopped {
		t.Errorf("State() = %s", h.ctrl.State())
	}
	h.assertTornDownOnce(t)
}

func TestCancelledContextActsAsQuit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	surface := &scriptedSurface{}
	h := newHarness(t, testConfig(true), surface, "A", "B")
	// cancel once the first stimulus is on screen
	h.mocks[0].OnEvent = func(_, event string) {
		if strings.HasPrefix(event, "annotate:start_") {
			cancel()
		}
	}
	defer cancel()

	if err := h.ctrl.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.ctrl.State() != models.StateStopped {
		t.Errorf("State() = %s", h.ctrl.State())
	}
	if n := len(h.ctrl.Presentations()); n != 1 {
		t.Errorf("presented %d gestures, want 1", n)
	}
	h.assertTornDownOnce(t)
}

func TestEmptyGestureSetFinishes(t *testing.T) {
	surface := &scriptedSurface{}
	h := newHarness(t, testConfig(true), surface)

	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.ctrl.State() != models.StateFinished {
		t.Errorf("State() = %s", h.ctrl.State())
	}
	if labels := h.mocks[0].Labels(); len(labels) != 1 || labels[0] != models.EndExperimentLabel {
		t.Errorf("labels = %v", labels)
	}
	h.assertTornDownOnce(t)
}

func TestRecorderErrorsAreAggregated(t *testing.T) {
	h := newHarness(t, testConfig(false), &scriptedSurface{}, "A")
	stopErr := errors.New("stop failed")
	joinErr := errors.New("join failed")
	h.mocks[0].StopErr = stopErr
	h.mocks[1].JoinErr = joinErr

	err := h.ctrl.Run(context.Background())
	if !errors.Is(err, stopErr) || !errors.Is(err, joinErr) {
		t.Errorf("Run() = %v, want both recorder errors", err)
	}
	// a failing stop does not prevent the other joins
	h.assertTornDownOnce(t)
}

func TestDisplayFailureFallsBack(t *testing.T) {
	fallback := &scriptedSurface{}
	stimuli := testStimuli("A")
	cfg := testConfig(false)
	cfg.Repetitions = 1
	ctrl, err := New(cfg, stimuli,
		WithClock(&fakeClock{}),
		WithSurface(
			func() (display.Surface, error) { return nil, errors.New("no window") },
			func() display.Surface { return fallback },
		),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctrl.State() != models.StateFinished {
		t.Errorf("State() = %s", ctrl.State())
	}
	if len(fallback.captions) != 1 || fallback.closed != 1 {
		t.Errorf("fallback captions=%v closed=%d", fallback.captions, fallback.closed)
	}
}

type memStateJournal struct {
	mu      sync.Mutex
	changes []models.StateChange
	state   models.RunState
}

func (j *memStateJournal) UpdateSessionState(_ string, s models.RunState) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
	return nil
}

func (j *memStateJournal) RecordStateChange(c models.StateChange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.changes = append(j.changes, c)
	return nil
}

func TestStateChangesAreJournaled(t *testing.T) {
	j := &memStateJournal{}
	surface := &scriptedSurface{polls: [][]string{{display.KeySpace}}, waits: []string{display.KeySpace, display.KeySpace}}
	cfg := testConfig(false)
	cfg.Repetitions = 1
	ctrl, err := New(cfg, testStimuli("A"),
		WithClock(&fakeClock{}),
		WithSurface(func() (display.Surface, error) { return surface, nil }, nil),
		WithJournal(j, "s_test"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []models.RunState
	for _, c := range j.changes {
		if c.SessionID != "s_test" {
			t.Errorf("change journaled under %q", c.SessionID)
		}
		got = append(got, c.To)
	}
	want := []models.RunState{models.StateRunning, models.StatePaused, models.StateRunning, models.StateFinished}
	if !slices.Equal(got, want) {
		t.Errorf("journaled states = %v, want %v", got, want)
	}
	if j.state != models.StateFinished {
		t.Errorf("session state = %s", j.state)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(false)
	cfg.QuitKey = ""
	if _, err := New(cfg, testStimuli("A")); !errors.Is(err, models.ErrEmptyQuitKey) {
		t.Errorf("New() = %v, want ErrEmptyQuitKey", err)
	}
}
