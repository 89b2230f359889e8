package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/config"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/display"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/output"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recorder"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/visualize"
)

// Visualize shows live signal levels without running an experiment. It starts
// the devices, refreshes sink until ctx is cancelled, then stops and joins them.
// When the hand tracker is connected and sink is a display.StatusSink, its frame
// rate and hand count are shown as well. Nothing is saved.
func Visualize(ctx context.Context, cfg config.Config, devices DeviceFactory, sink display.LevelSink, out *output.Formatter) error {
	if devices == nil {
		devices = DefaultDevices
	}
	d := devices(ctx, cfg, models.ParticipantInfo{ID: "0"})
	if d.Levels == nil {
		return errors.New("no live level source available")
	}
	if err := startAll(d.Recorders); err != nil {
		return err
	}
	source := "EMG"
	if !cfg.Record {
		source = "synthetic"
	}
	if out != nil {
		out.Visualizing(source)
	}

	monitor := visualize.NewMonitor(d.Levels, sink, 0)
	if status, ok := sink.(display.StatusSink); ok && d.Status != nil {
		monitor.AddStatus(d.Status, status)
	} else if cfg.Record && d.Status == nil {
		slog.Info("Hand tracking not connected, showing EMG levels only")
	}
	monitor.Run(ctx)

	var errs []error
	for _, r := range d.Recorders {
		if err := r.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range d.Recorders {
		if err := r.Join(); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("Visualization stopped", "recorders", len(d.Recorders))
	return errors.Join(errs...)
}

var (
	_ visualize.Source       = (*recorder.EMGStream)(nil)
	_ visualize.StatusSource = (*recorder.MotionCapture)(nil)
)
