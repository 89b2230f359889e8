// Package scheduler provides gesture scheduling for experiment sessions.
//
// It draws gestures uniformly at random from those still under their repetition
// quota and retires each gesture once its quota is met.
package scheduler

import (
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
)

// Opts holds configuration for a Scheduler.
type Opts struct {
	Rand *rand.Rand
}

// Option configures a Scheduler.
type Option func(*Opts)

// WithRand sets the random source used to draw gestures.
func WithRand(r *rand.Rand) Option {
	return func(o *Opts) {
		o.Rand = r
	}
}

// Scheduler decides which gesture is presented next.
type Scheduler struct {
	mu        sync.Mutex
	rng       *rand.Rand
	target    int
	live      []models.Gesture
	completed map[string]int
	order     []string
}

// NewScheduler creates a scheduler for the given gesture set.
func NewScheduler(set models.GestureSet, opts ...Option) *Scheduler {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	gestures := set.Gestures()
	s := &Scheduler{
		rng:       cfg.Rand,
		target:    set.Target(),
		live:      gestures,
		completed: make(map[string]int, len(gestures)),
		order:     make([]string, 0, len(gestures)),
	}
	for _, g := range gestures {
		s.completed[g.ID] = 0
		s.order = append(s.order, g.ID)
	}
	slog.Debug("Scheduler created", "gestures", len(gestures), "target", s.target)
	return s
}

func (s *Scheduler) intN(n int) int {
	if s.rng != nil {
		return s.rng.IntN(n)
	}
	return rand.IntN(n)
}

// Next draws a gesture uniformly among those still under quota and counts it as
// presented. A gesture that reaches its target leaves the candidate set for good.
// Once every gesture is retired Next returns false on every call.
func (s *Scheduler) Next() (models.Gesture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.live) == 0 {
		return models.Gesture{}, false
	}

	i := s.intN(len(s.live))
	g := s.live[i]
	s.completed[g.ID]++
	if s.completed[g.ID] >= s.target {
		s.live = append(s.live[:i], s.live[i+1:]...)
		slog.Debug("Scheduler retired gesture", "gesture", g.ID, "remaining_gestures", len(s.live))
	}
	return g, true
}

// Exhausted reports whether every gesture has met its quota.
func (s *Scheduler) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live) == 0
}

// Remaining returns the number of presentations still owed.
func (s *Scheduler) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.live {
		n += s.target - s.completed[g.ID]
	}
	return n
}

// Completed returns how many times the gesture has been drawn.
func (s *Scheduler) Completed(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[id]
}

// Counts returns a snapshot of completed counts keyed by gesture ID.
func (s *Scheduler) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.completed))
	for _, id := range s.order {
		out[id] = s.completed[id]
	}
	return out
}

// Total returns the sum of completed counts.
func (s *Scheduler) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.completed {
		n += c
	}
	return n
}
