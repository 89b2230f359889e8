package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/stimulus"
)

// ErrNoTerminal is returned when the terminal UI is requested without a terminal.
var ErrNoTerminal = errors.New("terminal UI requires an interactive terminal")

// Default art width in cells when the terminal size is not yet known.
const defaultArtCols = 64

type textMsg string

type stimulusMsg struct {
	caption string
	img     image.Image
}

type levelsMsg []float64

type statusMsg string

var (
	textStyle    = lipgloss.NewStyle().Align(lipgloss.Center)
	captionStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	levelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStyle  = lipgloss.NewStyle().Faint(true)
)

// ScreenModel is the bubbletea model of the experiment screen.
type ScreenModel struct {
	keys    keyQueue
	quitKey string

	width, height int
	text          string
	caption       string
	img           image.Image
	art           string
	levels        []float64
	status        string
}

// NewScreenModel creates the experiment screen. Ctrl+C is reported as quitKey.
func NewScreenModel(keys chan string, quitKey string) ScreenModel {
	return ScreenModel{keys: keys, quitKey: quitKey}
}

func (m ScreenModel) Init() tea.Cmd {
	return nil
}

// KeyName maps a bubbletea key to the names used by surfaces.
func KeyName(k tea.KeyMsg) string {
	switch k.Type {
	case tea.KeySpace:
		return KeySpace
	case tea.KeyEnter:
		return KeyEnter
	case tea.KeyEsc:
		return KeyEsc
	}
	return strings.ToLower(k.String())
}

func (m ScreenModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.renderArt()
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.keys.push(m.quitKey)
		} else {
			m.keys.push(KeyName(msg))
		}
	case textMsg:
		m.text = string(msg)
		m.caption, m.img, m.art = "", nil, ""
	case stimulusMsg:
		m.text = ""
		m.caption, m.img = msg.caption, msg.img
		m.renderArt()
	case levelsMsg:
		m.levels = msg
	case statusMsg:
		m.status = string(msg)
	}
	return m, nil
}

func (m *ScreenModel) renderArt() {
	if m.img == nil {
		m.art = ""
		return
	}
	cols := defaultArtCols
	if m.width > 0 {
		cols = min(m.width-4, 2*defaultArtCols)
	}
	rows := cols * stimulus.FrameHeight / stimulus.FrameWidth / 2
	if m.height > 0 {
		rows = min(rows, m.height-6)
	}
	m.art = stimulus.Render(m.img, cols, max(rows, 1))
}

func (m ScreenModel) View() string {
	var body string
	if m.img != nil {
		body = lipgloss.JoinVertical(lipgloss.Center, captionStyle.Render(m.caption), m.art)
	} else {
		body = textStyle.Render(m.text)
	}
	if len(m.levels) > 0 {
		body = lipgloss.JoinVertical(lipgloss.Center, body, "", levelStyle.Render(levelBars(m.levels)))
	}
	if m.status != "" {
		body = lipgloss.JoinVertical(lipgloss.Center, body, statusStyle.Render(m.status))
	}
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, body)
	}
	return body
}

// levelBars renders one bar per channel scaled to the largest level.
func levelBars(levels []float64) string {
	const width = 30
	peak := 0.0
	for _, l := range levels {
		peak = max(peak, l)
	}
	var b strings.Builder
	for i, l := range levels {
		n := 0
		if peak > 0 {
			n = int(l / peak * width)
		}
		fmt.Fprintf(&b, "ch%-2d %-*s %8.1f", i+1, width, strings.Repeat("█", n), l)
		if i < len(levels)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// TUI is the terminal experiment screen.
type TUI struct {
	program *tea.Program
	keys    keyQueue
	done    chan struct{}

	closeOnce sync.Once
	runErr    error
}

var (
	_ Surface    = (*TUI)(nil)
	_ LevelSink  = (*TUI)(nil)
	_ StatusSink = (*TUI)(nil)
)

// NewTUI starts the experiment screen on the alternate screen buffer.
func NewTUI(quitKey string, opts ...tea.ProgramOption) (*TUI, error) {
	if len(opts) == 0 && !isatty.IsTerminal(os.Stdout.Fd()) {
		return nil, ErrNoTerminal
	}
	keys := newKeyQueue()
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	t := &TUI{
		program: tea.NewProgram(NewScreenModel(keys, quitKey), opts...),
		keys:    keys,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		if _, err := t.program.Run(); err != nil {
			slog.Error("Terminal UI exited with error", "error", err)
			t.runErr = err
		}
	}()
	slog.Debug("Terminal UI started")
	return t, nil
}

func (t *TUI) send(msg tea.Msg) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	t.program.Send(msg)
	return nil
}

func (t *TUI) ShowText(text string) error {
	return t.send(textMsg(text))
}

func (t *TUI) ShowStimulus(caption string, img image.Image) error {
	return t.send(stimulusMsg{caption: caption, img: img})
}

func (t *TUI) ShowLevels(levels []float64) {
	t.send(levelsMsg(append([]float64(nil), levels...)))
}

func (t *TUI) ShowStatus(line string) {
	t.send(statusMsg(line))
}

func (t *TUI) WaitKeys(ctx context.Context, keys ...string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	k, err := t.keys.wait(ctx, keys, identity)
	if err != nil {
		select {
		case <-t.done:
			return "", ErrClosed
		default:
		}
	}
	return k, err
}

func (t *TUI) PollKeys() []string {
	return t.keys.drain(identity)
}

func (t *TUI) Close() error {
	t.closeOnce.Do(func() {
		t.program.Quit()
		<-t.done
		slog.Debug("Terminal UI closed")
	})
	return t.runErr
}

// TUIForm collects participant information with an interactive dialog.
type TUIForm struct {
	opts []tea.ProgramOption
}

var _ InfoCollector = (*TUIForm)(nil)

// NewTUIForm creates the dialog; opts are passed to the bubbletea program.
func NewTUIForm(opts ...tea.ProgramOption) *TUIForm {
	return &TUIForm{opts: opts}
}

func (f *TUIForm) CollectParticipantInfo(ctx context.Context) (models.ParticipantInfo, error) {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, f.opts...)
	final, err := tea.NewProgram(NewFormModel(), opts...).Run()
	if err != nil {
		return models.ParticipantInfo{}, fmt.Errorf("participant dialog failed: %w", err)
	}
	m, ok := final.(FormModel)
	if !ok {
		return models.ParticipantInfo{}, fmt.Errorf("participant dialog returned %T", final)
	}
	return m.Result()
}
