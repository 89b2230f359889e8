// Package output formats operator-facing console lines.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Stimuli(n int, dir string) {
	fmt.Fprintf(f.w, "🖐️  Loaded %d gestures from %s\n", n, dir)
}

func (f *Formatter) SavingTo(paths ...string) {
	fmt.Fprintf(f.w, "💾 Saving data to: %s\n", strings.Join(paths, ", "))
}

func (f *Formatter) DryRun() {
	fmt.Fprintf(f.w, "🧪 Dry run: nothing will be recorded\n")
}

func (f *Formatter) RecoveredSessions(ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(f.w, "⚠️  %d earlier session(s) ended without teardown and were marked aborted: %s\n",
		len(ids), strings.Join(ids, ", "))
}

// SessionComplete reports the outcome and, for recorded sessions, prints the
// data directory as a QR code for the lab notebook.
func (f *Formatter) SessionComplete(state string, presentations int, elapsed time.Duration, dir string) {
	fmt.Fprintf(f.w, "\n✅ Session %s after %d presentations (%s)\n", state, presentations, formatDuration(elapsed))
	if dir == "" {
		return
	}
	fmt.Fprintf(f.w, "📁 Session data: %s\n", dir)
	qrterminal.GenerateHalfBlock(dir, qrterminal.L, f.w)
}

func (f *Formatter) Visualizing(source string) {
	fmt.Fprintf(f.w, "📈 Showing live %s levels, press Ctrl+C to stop\n", source)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
