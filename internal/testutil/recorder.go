package testutil

import (
	"sync"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recorder"
)

// MockRecorder is a recorder test double that counts lifecycle calls.
type MockRecorder struct {
	*recorder.Worker

	mu       sync.Mutex
	starts   int
	stops    int
	joins    int
	events   []string
	StartErr error
	StopErr  error
	JoinErr  error
	// OnEvent, when set, observes every lifecycle call and annotation in order.
	OnEvent func(name, event string)
}

// NewMockRecorder creates a MockRecorder with the given name.
func NewMockRecorder(name string) *MockRecorder {
	return &MockRecorder{Worker: recorder.NewNop(name)}
}

var _ recorder.Recorder = (*MockRecorder)(nil)

func (m *MockRecorder) record(event string) {
	m.mu.Lock()
	m.events = append(m.events, event)
	hook := m.OnEvent
	m.mu.Unlock()
	if hook != nil {
		hook(m.Name(), event)
	}
}

func (m *MockRecorder) Start() error {
	m.mu.Lock()
	m.starts++
	m.mu.Unlock()
	m.record("start")
	if m.StartErr != nil {
		return &recorder.StartError{Recorder: m.Name(), Cause: m.StartErr}
	}
	return m.Worker.Start()
}

func (m *MockRecorder) Stop() error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	m.record("stop")
	if err := m.Worker.Stop(); err != nil {
		return err
	}
	return m.StopErr
}

func (m *MockRecorder) Join() error {
	m.mu.Lock()
	m.joins++
	m.mu.Unlock()
	m.record("join")
	if err := m.Worker.Join(); err != nil {
		return err
	}
	return m.JoinErr
}

func (m *MockRecorder) AddAnnotation(label string) {
	m.Worker.AddAnnotation(label)
	m.record("annotate:" + label)
}

// Starts returns the number of Start calls.
func (m *MockRecorder) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Stops returns the number of Stop calls.
func (m *MockRecorder) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Joins returns the number of Join calls.
func (m *MockRecorder) Joins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joins
}

// Events returns the ordered lifecycle and annotation events.
func (m *MockRecorder) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// Labels returns the annotation labels in order.
func (m *MockRecorder) Labels() []string {
	anns := m.Annotations()
	out := make([]string, 0, len(anns))
	for _, a := range anns {
		out = append(out, a.Label)
	}
	return out
}
