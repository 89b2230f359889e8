package recorder

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Motion capture defaults
const (
	DefaultMotionURL = "ws://127.0.0.1:6437/v7.json"
	// MotionName is the recorder name used in logs and the session manifest.
	MotionName = "leap"
	// DefaultProbeTimeout bounds the capability probe.
	DefaultProbeTimeout = 2 * time.Second
)

// ErrMotionUnavailable is returned by Probe when the tracking service cannot be reached.
var ErrMotionUnavailable = errors.New("hand tracking service unavailable")

var fingerNames = []string{"thumb", "index", "middle", "ring", "pinky"}

// MotionHeader is the CSV header written by the motion capture recorder.
var MotionHeader = buildMotionHeader()

func buildMotionHeader() []string {
	h := []string{"onset_s", "frame_id", "timestamp_us", "hand_id", "hand_type", "palm_x", "palm_y", "palm_z"}
	for _, f := range fingerNames {
		h = append(h, f+"_tip_x", f+"_tip_y", f+"_tip_z")
	}
	return append(h, "trigger")
}

// MotionConfig configures the hand tracking recorder.
type MotionConfig struct {
	URL     string
	Timeout time.Duration
}

func (c MotionConfig) withDefaults() MotionConfig {
	if c.URL == "" {
		c.URL = DefaultMotionURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultProbeTimeout
	}
	return c
}

// Probe checks once whether the tracking service accepts connections.
func Probe(ctx context.Context, cfg MotionConfig) error {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMotionUnavailable, err)
	}
	conn.Close()
	return nil
}

// frameRateDecay is the smoothing factor of the frame interval average.
const frameRateDecay = 0.1

// MotionCapture records tracked hand frames to CSV and reports live tracking status.
type MotionCapture struct {
	*Worker
	task *motionTask
}

// NewMotionCapture creates a hand tracking recorder. It does not connect until Start.
func NewMotionCapture(cfg MotionConfig) *MotionCapture {
	t := &motionTask{cfg: cfg.withDefaults(), now: time.Now}
	return &MotionCapture{Worker: NewWorker(MotionName, t), task: t}
}

// MotionStats summarizes the frames received so far.
type MotionStats struct {
	Frames    int
	Hands     int
	FrameRate float64
}

// Stats returns the frame count, the hands in the latest frame and the smoothed frame rate.
func (m *MotionCapture) Stats() MotionStats {
	return m.task.stats()
}

// Status renders Stats as one line for the live view.
func (m *MotionCapture) Status() string {
	s := m.Stats()
	if s.Frames == 0 {
		return "hand tracking: waiting for frames"
	}
	return fmt.Sprintf("hand tracking: %.0f fps, %d hand(s)", s.FrameRate, s.Hands)
}

type motionTask struct {
	cfg MotionConfig

	conn    *websocket.Conn
	file    *os.File
	csv     *csv.Writer
	started time.Time

	now func() time.Time

	mu        sync.Mutex
	pending   []Annotation
	frames    int
	hands     int
	lastFrame time.Time
	interval  float64
}

func (t *motionTask) Open(ctx context.Context, saveAs string) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = t.cfg.Timeout
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to hand tracking service at %s: %w", t.cfg.URL, err)
	}
	for _, msg := range []string{`{"background": true}`, `{"optimizeHMD": false}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			conn.Close()
			return fmt.Errorf("failed to configure hand tracking service: %w", err)
		}
	}
	t.conn = conn
	t.started = time.Now()
	slog.Debug("Hand tracking connected", "url", t.cfg.URL)

	if saveAs == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(saveAs), 0755); err != nil {
		conn.Close()
		return fmt.Errorf("failed to create motion output directory: %w", err)
	}
	f, err := os.Create(saveAs)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create motion output %s: %w", saveAs, err)
	}
	t.file = f
	t.csv = csv.NewWriter(f)
	if err := t.csv.Write(MotionHeader); err != nil {
		f.Close()
		conn.Close()
		return err
	}
	return nil
}

func (t *motionTask) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { t.conn.Close() })
	defer stop()

	err := t.acquire(ctx)

	if t.csv != nil {
		if werr := t.writeTriggers(); werr != nil {
			err = errors.Join(err, werr)
		}
		t.csv.Flush()
		if ferr := t.csv.Error(); ferr != nil {
			err = errors.Join(err, ferr)
		}
		if cerr := t.file.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func (t *motionTask) acquire(ctx context.Context) error {
	defer t.conn.Close()
	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("hand tracking read failed: %w", err)
		}
		if hands := gjson.GetBytes(msg, "hands"); hands.Exists() {
			t.countFrame(len(hands.Array()))
		}
		if t.csv == nil {
			continue
		}
		if err := t.writeTriggers(); err != nil {
			return err
		}
		for _, row := range FrameRows(msg, time.Since(t.started)) {
			if err := t.csv.Write(row); err != nil {
				return err
			}
		}
	}
}

func (t *motionTask) countFrame(hands int) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frames > 0 {
		dt := now.Sub(t.lastFrame).Seconds()
		if t.interval == 0 {
			t.interval = dt
		} else {
			t.interval = (1-frameRateDecay)*t.interval + frameRateDecay*dt
		}
	}
	t.frames++
	t.hands = hands
	t.lastFrame = now
}

func (t *motionTask) stats() MotionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := MotionStats{Frames: t.frames, Hands: t.hands}
	if t.interval > 0 {
		s.FrameRate = 1 / t.interval
	}
	return s
}

// Annotate queues a trigger row stamped on the same clock as the frame rows.
func (t *motionTask) Annotate(a Annotation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a.Onset = time.Since(t.started)
	t.pending = append(t.pending, a)
}

func (t *motionTask) takeTriggers() []Annotation {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := t.pending
	t.pending = nil
	return pending
}

// writeTriggers writes one row per queued annotation, in the order they were added.
func (t *motionTask) writeTriggers() error {
	for _, a := range t.takeTriggers() {
		if err := t.csv.Write(TriggerRow(a)); err != nil {
			return err
		}
	}
	return nil
}

// TriggerRow is the CSV row recording one annotation: its onset and label,
// with every tracking column empty.
func TriggerRow(a Annotation) []string {
	row := make([]string, len(MotionHeader))
	row[0] = strconv.FormatFloat(a.Onset.Seconds(), 'f', 6, 64)
	row[len(row)-1] = a.Label
	return row
}

// FrameRows converts one tracking frame into CSV rows, one per tracked hand.
// Messages without a hands array (service version banners, events) yield no rows.
// The trigger column of frame rows is left empty.
func FrameRows(frame []byte, onset time.Duration) [][]string {
	hands := gjson.GetBytes(frame, "hands")
	if !hands.Exists() || len(hands.Array()) == 0 {
		return nil
	}
	frameID := gjson.GetBytes(frame, "id").String()
	timestamp := gjson.GetBytes(frame, "timestamp").String()
	pointables := gjson.GetBytes(frame, "pointables").Array()

	var rows [][]string
	for _, hand := range hands.Array() {
		handID := hand.Get("id").Int()
		row := []string{
			strconv.FormatFloat(onset.Seconds(), 'f', 6, 64),
			frameID,
			timestamp,
			strconv.FormatInt(handID, 10),
			hand.Get("type").String(),
		}
		row = append(row, vec3(hand.Get("palmPosition"))...)

		tips := make([][]string, len(fingerNames))
		for _, p := range pointables {
			if p.Get("handId").Int() != handID {
				continue
			}
			ft := int(p.Get("type").Int())
			if ft >= 0 && ft < len(fingerNames) {
				tips[ft] = vec3(p.Get("tipPosition"))
			}
		}
		for _, tip := range tips {
			if tip == nil {
				tip = []string{"", "", ""}
			}
			row = append(row, tip...)
		}
		rows = append(rows, append(row, ""))
	}
	return rows
}

func vec3(v gjson.Result) []string {
	out := []string{"", "", ""}
	for i, c := range v.Array() {
		if i >= 3 {
			break
		}
		out[i] = strconv.FormatFloat(c.Float(), 'f', 3, 64)
	}
	return out
}
