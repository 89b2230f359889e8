package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/config"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/display"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/experiment"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/output"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/session"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/store"
)

// LogFileName receives the log while the terminal UI owns the screen.
const LogFileName = "fpe.log"

func main() {
	initializeLogger(os.Stdout, slog.LevelDebug)

	if err := run(os.Args[1:]); err != nil {
		output.NewFormatter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	closeLog, err := configureLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	cmd := newRootCmd(cfg)
	cmd.SetArgs(args)
	return cmd.Execute()
}

// initializeLogger installs a text handler as the default logger.
func initializeLogger(w io.Writer, level slog.Level) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// configureLogging applies the configured level and, for the terminal UI,
// redirects the log into the data directory.
func configureLogging(cfg config.Config) (func(), error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if cfg.Display != config.DisplayTUI {
		initializeLogger(os.Stdout, level)
		return func() {}, nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}
	path := filepath.Join(cfg.DataDir, LogFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	initializeLogger(f, level)
	return func() { f.Close() }, nil
}

func newRootCmd(cfg config.Config) *cobra.Command {
	var vis bool

	cmd := &cobra.Command{
		Use:   "fpe",
		Short: "Run a finger gesture EMG acquisition session",
		Long: "Shows gesture images to a participant, records EMG and hand tracking data with\n" +
			"per-gesture triggers, and saves them under the data directory.\n" +
			"Use --vis to only watch live signal levels.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			formatter := output.NewFormatter(cmd.OutOrStdout())
			if vis {
				return runVisualization(ctx, cfg, formatter)
			}
			return runSession(ctx, cfg, formatter)
		},
	}
	cmd.Flags().BoolVar(&vis, "vis", false, "Only show live signal levels, do not run the experiment")
	return cmd
}

func runSession(ctx context.Context, cfg config.Config, formatter *output.Formatter) error {
	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("opening session journal: %w", err)
	}
	defer st.Close()

	collector, open := surfaces(cfg)
	runner, err := session.NewRunner(cfg,
		session.WithCollector(collector),
		session.WithSurface(open, func() display.Surface { return display.NewConsole(os.Stdin, os.Stdout) }),
		session.WithStore(st),
		session.WithOutput(formatter),
	)
	if err != nil {
		return err
	}

	res, err := runner.Run(ctx)
	if errors.Is(err, display.ErrCancelled) {
		formatter.Info("Cancelled before the session started")
		return nil
	}
	if err != nil {
		return err
	}
	slog.Debug("Session result", "session_id", res.SessionID, "state", res.State, "dir", res.Dir)
	return nil
}

// surfaces picks the participant dialog and display for the configured kind.
func surfaces(cfg config.Config) (display.InfoCollector, experiment.SurfaceOpener) {
	if cfg.Display == config.DisplayConsole {
		console := display.NewConsole(os.Stdin, os.Stdout)
		return console, func() (display.Surface, error) { return console, nil }
	}
	return display.NewTUIForm(), func() (display.Surface, error) {
		return display.NewTUI(cfg.QuitKey)
	}
}

func runVisualization(ctx context.Context, cfg config.Config, formatter *output.Formatter) error {
	var surface display.Surface
	var sink display.LevelSink
	if cfg.Display == config.DisplayTUI {
		tui, err := display.NewTUI(cfg.QuitKey)
		if err != nil {
			slog.Error("Terminal UI unavailable, showing levels on the console", "error", err)
		} else {
			surface, sink = tui, tui
		}
	}
	if surface == nil {
		console := display.NewConsole(os.Stdin, os.Stdout)
		surface, sink = console, console
	}
	defer surface.Close()

	// The terminal UI swallows Ctrl+C as a key press, so the quit key ends the view too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if _, err := surface.WaitKeys(ctx, cfg.QuitKey); err == nil {
			cancel()
		}
	}()

	return session.Visualize(ctx, cfg, nil, sink, formatter)
}
