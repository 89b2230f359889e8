package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/config"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recorder"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/visualize"
)

// MotionUnavailableMessage is shown when the hand-tracking service cannot be reached.
const MotionUnavailableMessage = "Leap Motion SDK not found. Leap Motion data will not be recorded."

// Devices are the recorders of one session and the sources of the live view.
type Devices struct {
	Recorders []recorder.Recorder
	Levels    visualize.Source
	// Status is the hand tracker's live status; nil when it is not connected.
	Status visualize.StatusSource
}

// DeviceFactory builds the recorders for a session. Recorders are returned unstarted.
type DeviceFactory func(ctx context.Context, cfg config.Config, info models.ParticipantInfo) Devices

// DefaultDevices connects the EMG stream and, when its service answers the
// probe, the hand tracker. Dry runs get no-op recorders and synthetic levels.
func DefaultDevices(ctx context.Context, cfg config.Config, info models.ParticipantInfo) Devices {
	if !cfg.Record {
		return Devices{
			Recorders: []recorder.Recorder{recorder.NewNop(recorder.EMGName), recorder.NewNop(recorder.MotionName)},
			Levels:    visualize.NewSineSource(cfg.EMGChannels, 1000, 2*time.Second, nil),
		}
	}

	emgCfg := cfg.EMG()
	emgCfg.Patient = info.PaddedID()
	emg := recorder.NewEMGStream(emgCfg)

	if err := recorder.Probe(ctx, cfg.Motion()); err != nil {
		slog.Warn(MotionUnavailableMessage, "error", err, "url", cfg.MotionURL)
		return Devices{Recorders: []recorder.Recorder{emg, recorder.NewNop(recorder.MotionName)}, Levels: emg}
	}
	motion := recorder.NewMotionCapture(cfg.Motion())
	return Devices{Recorders: []recorder.Recorder{emg, motion}, Levels: emg, Status: motion}
}

var recordingExt = map[string]string{
	recorder.EMGName:    ".edf",
	recorder.MotionName: ".csv",
}

// RecordingExt returns the file extension for a recorder's output.
func RecordingExt(name string) string {
	if ext, ok := recordingExt[name]; ok {
		return ext
	}
	return "." + name + ".dat"
}

// NextRunIndex returns the smallest run index with no recording file in dir, so
// rerunning a participant's session never overwrites earlier data.
func NextRunIndex(dir string, info models.ParticipantInfo, names []string) int {
	for run := 0; ; run++ {
		taken := false
		for _, n := range names {
			if _, err := os.Stat(filepath.Join(dir, info.RecordingBaseName(run)+RecordingExt(n))); err == nil {
				taken = true
				break
			}
		}
		if !taken {
			return run
		}
	}
}
