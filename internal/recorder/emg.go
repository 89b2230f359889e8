package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/edf"
)

// EMG stream defaults
const (
	DefaultEMGHost       = "127.0.0.1"
	DefaultEMGPort       = 20001
	DefaultEMGTimeout    = 20 * time.Second
	DefaultEMGChannels   = 8
	DefaultEMGSampleRate = 500
	// EMGName is the recorder name used in logs and the session manifest.
	EMGName = "emg"
	// levelDecay is the smoothing factor of the running mean square per channel.
	levelDecay = 0.05
	// microvoltsPerCount scales raw samples into the EDF physical range.
	microvoltsPerCount = 0.1
)

// EMGConfig configures the EMG/IMU stream connection.
type EMGConfig struct {
	Host       string
	Port       int
	Timeout    time.Duration
	Channels   int
	SampleRate int
	// Patient is written into the EDF patient field.
	Patient string
}

func (c EMGConfig) withDefaults() EMGConfig {
	if c.Host == "" {
		c.Host = DefaultEMGHost
	}
	if c.Port == 0 {
		c.Port = DefaultEMGPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultEMGTimeout
	}
	if c.Channels <= 0 {
		c.Channels = DefaultEMGChannels
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultEMGSampleRate
	}
	return c
}

// Addr returns host:port of the streamer.
func (c EMGConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EMGStream records frames of little-endian int16 samples, one per channel,
// from the EMG streamer into an EDF+ file whose annotation channel carries the triggers.
type EMGStream struct {
	*Worker
	task *emgTask
}

// NewEMGStream creates an EMG recorder. It does not connect until Start.
func NewEMGStream(cfg EMGConfig) *EMGStream {
	t := &emgTask{cfg: cfg.withDefaults(), levels: make([]float64, cfg.withDefaults().Channels)}
	return &EMGStream{Worker: NewWorker(EMGName, t), task: t}
}

// Levels returns the current per-channel RMS amplitude in raw counts.
func (s *EMGStream) Levels() []float64 {
	return s.task.Levels()
}

// Channels returns the configured channel count.
func (s *EMGStream) Channels() int {
	return s.task.cfg.Channels
}

type emgTask struct {
	cfg EMGConfig

	conn   net.Conn
	mu     sync.Mutex
	writer *edf.Writer
	levels []float64
}

func (t *emgTask) Open(ctx context.Context, saveAs string) error {
	dialer := net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to connect to EMG stream at %s: %w", t.cfg.Addr(), err)
	}
	slog.Debug("EMG stream connected", "addr", t.cfg.Addr())
	t.conn = conn

	if saveAs == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(saveAs), 0755); err != nil {
		conn.Close()
		return fmt.Errorf("failed to create EMG output directory: %w", err)
	}
	f, err := os.Create(saveAs)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create EMG output %s: %w", saveAs, err)
	}
	signals := make([]edf.Signal, t.cfg.Channels)
	for i := range signals {
		signals[i] = edf.Signal{
			Label:   fmt.Sprintf("EMG%d", i+1),
			PhysDim: "uV",
			PhysMin: math.MinInt16 * microvoltsPerCount,
			PhysMax: math.MaxInt16 * microvoltsPerCount,
			DigMin:  math.MinInt16,
			DigMax:  math.MaxInt16,
		}
	}
	w, err := edf.NewWriter(f, edf.Header{
		Patient:    t.cfg.Patient,
		Start:      time.Now(),
		SampleRate: t.cfg.SampleRate,
		Signals:    signals,
	})
	if err != nil {
		f.Close()
		conn.Close()
		return err
	}
	t.mu.Lock()
	t.writer = w
	t.mu.Unlock()
	slog.Debug("EMG output opened", "path", saveAs)
	return nil
}

func (t *emgTask) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { t.conn.Close() })
	defer stop()

	err := t.acquire(ctx)

	t.mu.Lock()
	w := t.writer
	t.writer = nil
	t.mu.Unlock()
	if w != nil {
		if cerr := w.Close(); cerr != nil {
			slog.Error("EMG output close failed", "error", cerr)
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func (t *emgTask) acquire(ctx context.Context) error {
	defer t.conn.Close()

	n := t.cfg.Channels
	frame := make([]byte, 2*n)
	block := make([][]int16, n)
	for i := range block {
		block[i] = make([]int16, 0, t.cfg.SampleRate)
	}

	for {
		if _, err := io.ReadFull(t.conn, frame); err != nil {
			ferr := t.writeFinal(block)
			if ctx.Err() != nil {
				return ferr
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("EMG stream closed by peer")
				return ferr
			}
			return errors.Join(fmt.Errorf("EMG stream read failed: %w", err), ferr)
		}
		t.mu.Lock()
		for ch := 0; ch < n; ch++ {
			v := int16(binary.LittleEndian.Uint16(frame[2*ch:]))
			block[ch] = append(block[ch], v)
			sq := float64(v) * float64(v)
			t.levels[ch] = (1-levelDecay)*t.levels[ch] + levelDecay*sq
		}
		w := t.writer
		t.mu.Unlock()

		if len(block[0]) == t.cfg.SampleRate {
			if w != nil {
				if err := w.WriteRecord(block); err != nil {
					return err
				}
			}
			for i := range block {
				block[i] = make([]int16, 0, t.cfg.SampleRate)
			}
		}
	}
}

// writeFinal saves the samples received since the last full record.
func (t *emgTask) writeFinal(block [][]int16) error {
	t.mu.Lock()
	w := t.writer
	t.mu.Unlock()
	if w == nil || len(block[0]) == 0 {
		return nil
	}
	return w.WriteFinal(block)
}

func (t *emgTask) Annotate(a Annotation) {
	t.mu.Lock()
	w := t.writer
	t.mu.Unlock()
	if w == nil {
		return
	}
	if err := w.Annotate(a.Onset, a.Label); err != nil {
		slog.Warn("EMG annotation not written", "label", a.Label, "error", err)
	}
}

func (t *emgTask) Levels() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, len(t.levels))
	for i, ms := range t.levels {
		out[i] = math.Sqrt(ms)
	}
	return out
}
