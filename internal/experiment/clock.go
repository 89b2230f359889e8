package experiment

import "time"

// Clock provides the fixed-duration waits of the trial loop.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d. It is not interruptible.
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}
