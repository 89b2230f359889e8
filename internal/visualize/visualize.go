// Package visualize streams live signal levels to a display.
package visualize

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/display"
)

// DefaultInterval is the refresh period of the level display.
const DefaultInterval = 100 * time.Millisecond

// Source produces one level per channel.
type Source interface {
	Levels() []float64
}

// StatusSource produces a one-line device status.
type StatusSource interface {
	Status() string
}

// Monitor periodically copies levels from a Source to a LevelSink.
type Monitor struct {
	source   Source
	sink     display.LevelSink
	interval time.Duration

	status     StatusSource
	statusSink display.StatusSink

	mu      sync.Mutex
	updates int
}

// NewMonitor creates a Monitor. A non-positive interval selects DefaultInterval.
func NewMonitor(source Source, sink display.LevelSink, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{source: source, sink: sink, interval: interval}
}

// AddStatus also refreshes sink with src's status line. Call it before Run.
func (m *Monitor) AddStatus(src StatusSource, sink display.StatusSink) {
	m.status, m.statusSink = src, sink
}

// Run refreshes the sink until ctx is cancelled. It always returns nil so it
// can share an errgroup with the session.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Debug("Monitor.Run: starting", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Monitor.Run: stopping", "updates", m.Updates())
			return nil
		case <-ticker.C:
			m.refresh()
		}
	}
}

func (m *Monitor) refresh() {
	if m.status != nil && m.statusSink != nil {
		m.statusSink.ShowStatus(m.status.Status())
	}
	levels := m.source.Levels()
	if len(levels) == 0 {
		return
	}
	m.sink.ShowLevels(levels)
	m.mu.Lock()
	m.updates++
	m.mu.Unlock()
}

// Updates returns how many times the sink was refreshed.
func (m *Monitor) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// SineSource synthesizes phase-shifted sine levels, one per channel. It stands
// in for the amplifier when nothing is being recorded.
type SineSource struct {
	channels  int
	amplitude float64
	period    time.Duration
	start     time.Time
	now       func() time.Time
}

// NewSineSource creates a SineSource. now may be nil for the wall clock.
func NewSineSource(channels int, amplitude float64, period time.Duration, now func() time.Time) *SineSource {
	if now == nil {
		now = time.Now
	}
	if period <= 0 {
		period = time.Second
	}
	return &SineSource{channels: channels, amplitude: amplitude, period: period, start: now(), now: now}
}

// Levels returns the absolute value of each channel's sine at the current time.
func (s *SineSource) Levels() []float64 {
	t := s.now().Sub(s.start).Seconds() / s.period.Seconds()
	out := make([]float64, s.channels)
	for i := range out {
		phase := float64(i) / float64(max(s.channels, 1))
		out[i] = math.Abs(s.amplitude * math.Sin(2*math.Pi*(t+phase)))
	}
	return out
}
