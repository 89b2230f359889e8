package display

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
)

// Console is a line-oriented surface: each input line is one key press and an
// empty line is the space key.
type Console struct {
	out   io.Writer
	lines keyQueue

	mu     sync.Mutex
	closed bool
}

var (
	_ Surface       = (*Console)(nil)
	_ InfoCollector = (*Console)(nil)
	_ LevelSink     = (*Console)(nil)
	_ StatusSink    = (*Console)(nil)
)

// NewConsole starts reading lines from in and writes output to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{out: out, lines: newKeyQueue()}
	go c.read(in)
	return c
}

func (c *Console) read(in io.Reader) {
	defer close(c.lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Console input read failed", "error", err)
	}
}

// consoleKey maps an input line to a key name.
func consoleKey(line string) string {
	k := strings.ToLower(strings.TrimSpace(line))
	if k == "" || k == " " {
		return KeySpace
	}
	return k
}

func (c *Console) printf(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

func (c *Console) ShowText(text string) error {
	return c.printf("\n%s\n", text)
}

func (c *Console) ShowStimulus(caption string, img image.Image) error {
	b := img.Bounds()
	return c.printf("\n%s\n[stimulus %dx%d]\n", caption, b.Dx(), b.Dy())
}

func (c *Console) ShowLevels(levels []float64) {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = fmt.Sprintf("%7.1f", l)
	}
	c.printf("levels %s\n", strings.Join(parts, " "))
}

func (c *Console) ShowStatus(line string) {
	c.printf("status %s\n", line)
}

func (c *Console) WaitKeys(ctx context.Context, keys ...string) (string, error) {
	return c.lines.wait(ctx, keys, consoleKey)
}

func (c *Console) PollKeys() []string {
	return c.lines.drain(consoleKey)
}

func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Console) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", ErrCancelled
		}
		return strings.TrimSpace(line), nil
	}
}

// CollectParticipantInfo prompts for each form field in turn until the answers validate.
func (c *Console) CollectParticipantInfo(ctx context.Context) (models.ParticipantInfo, error) {
	for {
		form := NewForm()
		for i := range form.Fields {
			f := &form.Fields[i]
			if err := c.printf("%s %s: ", f.Label, f.Hint()); err != nil {
				return models.ParticipantInfo{}, err
			}
			line, err := c.readLine(ctx)
			if err != nil {
				return models.ParticipantInfo{}, err
			}
			f.Set(line)
		}
		info, err := form.Info()
		if err == nil {
			slog.Debug("Participant information collected", "participant", info.PaddedID(), "session", info.Session)
			return info, nil
		}
		c.printf("Invalid participant information: %v\n", err)
	}
}
