// Package display provides the participant-facing surfaces of the experiment.
//
// A Surface renders instructions, countdowns and gesture stimuli and reports
// key presses. The terminal UI is the normal surface; the console surface is
// used headless and as the degraded fallback when the terminal UI cannot start.
package display

import (
	"context"
	"errors"
	"image"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
)

// Key names reported by surfaces.
const (
	KeySpace = "space"
	KeyEnter = "enter"
	KeyEsc   = "esc"
)

// keyBuffer bounds keys queued between polls.
const keyBuffer = 64

var (
	// ErrCancelled is returned when the participant dismisses the information form.
	ErrCancelled = errors.New("participant dialog cancelled")
	// ErrClosed is returned by surfaces used after Close.
	ErrClosed = errors.New("display closed")
)

// Surface is the participant-facing display and keyboard.
type Surface interface {
	ShowText(text string) error
	// ShowStimulus draws img with caption above it.
	ShowStimulus(caption string, img image.Image) error
	// WaitKeys blocks until one of keys is pressed and returns it.
	WaitKeys(ctx context.Context, keys ...string) (string, error)
	// PollKeys returns and clears the keys pressed since the last poll.
	PollKeys() []string
	Close() error
}

// LevelSink receives live signal levels for display.
type LevelSink interface {
	ShowLevels(levels []float64)
}

// StatusSink receives a one-line device status shown next to the levels.
type StatusSink interface {
	ShowStatus(line string)
}

// InfoCollector gathers participant information before a session.
type InfoCollector interface {
	CollectParticipantInfo(ctx context.Context) (models.ParticipantInfo, error)
}

// keyQueue is the buffered key channel shared by surfaces.
type keyQueue chan string

func newKeyQueue() keyQueue {
	return make(keyQueue, keyBuffer)
}

// push enqueues key, dropping it when the buffer is full.
func (q keyQueue) push(key string) {
	select {
	case q <- key:
	default:
	}
}

func (q keyQueue) drain(normalize func(string) string) []string {
	var keys []string
	for {
		select {
		case k, ok := <-q:
			if !ok {
				return keys
			}
			keys = append(keys, normalize(k))
		default:
			return keys
		}
	}
}

func (q keyQueue) wait(ctx context.Context, keys []string, normalize func(string) string) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case raw, ok := <-q:
			if !ok {
				return "", ErrClosed
			}
			k := normalize(raw)
			for _, want := range keys {
				if k == want {
					return k, nil
				}
			}
		}
	}
}

func identity(s string) string { return s }
