// Package config loads fpe settings from defaults, a TOML file, a .env file and
// FPE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/recorder"
)

// Defaults
const (
	DefaultConfigFile  = "fpe.toml"
	DefaultGestureDir  = "./images"
	DefaultDataDir     = "./dataset"
	DefaultDBFileName  = "fpe.db"
	DefaultQuitKey     = "q"
	DefaultRepetitions = 5
	DefaultGestureSecs = 5
	DefaultRestSecs    = 5
	DefaultEndHoldSecs = 3

	// EnvPrefix is prepended to every environment variable name.
	EnvPrefix = "FPE_"
	// ConfigFileEnv names the TOML file to load.
	ConfigFileEnv = "FPE_CONFIG_FILE"
)

// Display kinds.
const (
	DisplayTUI     = "tui"
	DisplayConsole = "console"
)

var (
	ErrInvalidDisplay  = errors.New("display must be tui or console")
	ErrInvalidPort     = errors.New("emg port must be between 1 and 65535")
	ErrInvalidChannels = errors.New("emg channels must be positive")
	ErrInvalidRate     = errors.New("sample rate must be positive")
	ErrInvalidLogLevel = errors.New("unknown log level")
)

// Config holds every fpe setting.
type Config struct {
	Repetitions    int    `toml:"repetitions" env:"REPETITIONS"`
	GestureSeconds int    `toml:"gesture_seconds" env:"GESTURE_SECONDS"`
	RestSeconds    int    `toml:"rest_seconds" env:"REST_SECONDS"`
	EndHoldSeconds int    `toml:"end_hold_seconds" env:"END_HOLD_SECONDS"`
	GestureDir     string `toml:"gesture_dir" env:"GESTURE_DIR"`
	Record         bool   `toml:"record" env:"RECORD"`
	DataDir        string `toml:"data_dir" env:"DATA_DIR"`
	QuitKey        string `toml:"quit_key" env:"QUIT_KEY"`

	EMGHost           string `toml:"emg_host" env:"EMG_HOST"`
	EMGPort           int    `toml:"emg_port" env:"EMG_PORT"`
	EMGTimeoutSeconds int    `toml:"emg_timeout_seconds" env:"EMG_TIMEOUT_SECONDS"`
	EMGChannels       int    `toml:"emg_channels" env:"EMG_CHANNELS"`
	SampleRate        int    `toml:"sample_rate" env:"SAMPLE_RATE"`
	MotionURL         string `toml:"motion_url" env:"MOTION_URL"`
	// MotionTimeoutSeconds bounds the hand tracking probe and handshake.
	MotionTimeoutSeconds int `toml:"motion_timeout_seconds" env:"MOTION_TIMEOUT_SECONDS"`

	// StoreDSN selects the session journal; empty means SQLite in DataDir.
	StoreDSN  string `toml:"store_dsn" env:"STORE_DSN"`
	Display   string `toml:"display" env:"DISPLAY_KIND"`
	LogLevel  string `toml:"log_level" env:"LOG_LEVEL"`
	Visualize bool   `toml:"visualize" env:"VISUALIZE"`
}

// sharedEnv holds unprefixed variables honoured for compatibility with hosted databases.
type sharedEnv struct {
	DatabaseURL string `env:"DATABASE_URL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Repetitions:          DefaultRepetitions,
		GestureSeconds:       DefaultGestureSecs,
		RestSeconds:          DefaultRestSecs,
		EndHoldSeconds:       DefaultEndHoldSecs,
		GestureDir:           DefaultGestureDir,
		DataDir:              DefaultDataDir,
		QuitKey:              DefaultQuitKey,
		EMGHost:              recorder.DefaultEMGHost,
		EMGPort:              recorder.DefaultEMGPort,
		EMGTimeoutSeconds:    int(recorder.DefaultEMGTimeout / time.Second),
		EMGChannels:          recorder.DefaultEMGChannels,
		SampleRate:           recorder.DefaultEMGSampleRate,
		MotionURL:            recorder.DefaultMotionURL,
		MotionTimeoutSeconds: int(recorder.DefaultProbeTimeout / time.Second),
		Display:              DisplayTUI,
		LogLevel:             "debug",
		Visualize:            true,
	}
}

// Load builds the configuration: defaults, then the TOML file named by
// FPE_CONFIG_FILE (or ./fpe.toml when present), then .env, then the environment.
func Load() (Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	} else {
		slog.Debug("Loaded .env file")
	}

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	var shared sharedEnv
	if err := env.Parse(&shared); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.StoreDSN == "" && shared.DatabaseURL != "" {
		cfg.StoreDSN = shared.DatabaseURL
		slog.Debug("Using DATABASE_URL for the session journal")
	}
	if cfg.StoreDSN == "" {
		cfg.StoreDSN = filepath.Join(cfg.DataDir, DefaultDBFileName)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	slog.Debug("Configuration loaded",
		"data_dir", cfg.DataDir, "gesture_dir", cfg.GestureDir, "record", cfg.Record,
		"repetitions", cfg.Repetitions, "display", cfg.Display, "dsn_set", cfg.StoreDSN != "")
	return cfg, nil
}

// ParseEnv overlays FPE_* environment variables onto target.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		slog.Warn("Ignoring unknown config keys", "file", path, "keys", undecoded)
	}
	slog.Debug("Loaded config file", "file", path)
	return nil
}

func configFilePath() string {
	if p := os.Getenv(ConfigFileEnv); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	} else if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Cannot stat default config file", "file", DefaultConfigFile, "error", err)
	}
	return ""
}

// Validate rejects values no session could run with.
func (c Config) Validate() error {
	if err := c.Session().Validate(); err != nil {
		return err
	}
	switch c.Display {
	case DisplayTUI, DisplayConsole:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDisplay, c.Display)
	}
	if c.EMGPort <= 0 || c.EMGPort > 65535 {
		return ErrInvalidPort
	}
	if c.EMGChannels <= 0 {
		return ErrInvalidChannels
	}
	if c.SampleRate <= 0 {
		return ErrInvalidRate
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Session returns the per-session experiment settings.
func (c Config) Session() models.SessionConfig {
	return models.SessionConfig{
		Repetitions:     c.Repetitions,
		GestureDuration: time.Duration(c.GestureSeconds) * time.Second,
		RestDuration:    time.Duration(c.RestSeconds) * time.Second,
		GestureDir:      c.GestureDir,
		Record:          c.Record,
		QuitKey:         c.QuitKey,
		EndHold:         time.Duration(c.EndHoldSeconds) * time.Second,
	}
}

// EMG returns the EMG stream settings.
func (c Config) EMG() recorder.EMGConfig {
	return recorder.EMGConfig{
		Host:       c.EMGHost,
		Port:       c.EMGPort,
		Timeout:    time.Duration(c.EMGTimeoutSeconds) * time.Second,
		Channels:   c.EMGChannels,
		SampleRate: c.SampleRate,
	}
}

// Motion returns the hand-tracking service settings.
func (c Config) Motion() recorder.MotionConfig {
	return recorder.MotionConfig{URL: c.MotionURL, Timeout: time.Duration(c.MotionTimeoutSeconds) * time.Second}
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return lvl, nil
}
