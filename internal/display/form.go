package display

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
)

// Field is one entry of the participant information form.
type Field struct {
	Label   string
	Choices []string // empty for free text
	Value   string
}

// Hint describes the accepted values.
func (f Field) Hint() string {
	if len(f.Choices) == 0 {
		return ""
	}
	if _, err := strconv.Atoi(f.Choices[0]); err == nil {
		return fmt.Sprintf("(%s-%s)", f.Choices[0], f.Choices[len(f.Choices)-1])
	}
	return "(" + strings.Join(f.Choices, "/") + ")"
}

// Set stores raw input, matching choices case-insensitively by prefix.
func (f *Field) Set(raw string) {
	raw = strings.TrimSpace(raw)
	for _, c := range f.Choices {
		if strings.EqualFold(c, raw) {
			f.Value = c
			return
		}
	}
	if raw != "" {
		for _, c := range f.Choices {
			if strings.HasPrefix(strings.ToLower(c), strings.ToLower(raw)) {
				f.Value = c
				return
			}
		}
	}
	f.Value = raw
}

// Cycle moves a choice field by delta, wrapping around.
func (f *Field) Cycle(delta int) {
	if len(f.Choices) == 0 {
		return
	}
	i := 0
	for j, c := range f.Choices {
		if c == f.Value {
			i = j
			break
		}
	}
	n := len(f.Choices)
	f.Value = f.Choices[((i+delta)%n+n)%n]
}

// Form is the participant information dialog.
type Form struct {
	Fields []Field
}

const (
	fieldID = iota
	fieldAge
	fieldGender
	fieldSession
	fieldPosition
)

func numberChoices(lo, hi int) []string {
	out := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out
}

// NewForm returns the form with the dialog's fields and default choices.
func NewForm() Form {
	return Form{Fields: []Field{
		{Label: "Participant ID"},
		{Label: "Age"},
		{Label: "Gender", Choices: []string{string(models.GenderMale), string(models.GenderFemale)}, Value: string(models.GenderMale)},
		{Label: "Session", Choices: numberChoices(models.MinSessionNumber, models.MaxSessionNumber), Value: "1"},
		{Label: "Position", Choices: numberChoices(models.MinPosition, models.MaxPosition), Value: "1"},
	}}
}

// Info converts the answers to a validated ParticipantInfo.
func (f Form) Info() (models.ParticipantInfo, error) {
	age, err := strconv.Atoi(strings.TrimSpace(f.Fields[fieldAge].Value))
	if err != nil {
		return models.ParticipantInfo{}, models.ErrInvalidAge
	}
	session, err := strconv.Atoi(f.Fields[fieldSession].Value)
	if err != nil {
		return models.ParticipantInfo{}, models.ErrInvalidSession
	}
	position, err := strconv.Atoi(f.Fields[fieldPosition].Value)
	if err != nil {
		return models.ParticipantInfo{}, models.ErrInvalidPosition
	}
	info := models.ParticipantInfo{
		ID:       strings.TrimSpace(f.Fields[fieldID].Value),
		Age:      age,
		Gender:   models.Gender(f.Fields[fieldGender].Value),
		Session:  session,
		Position: position,
	}
	if err := info.Validate(); err != nil {
		return models.ParticipantInfo{}, err
	}
	return info, nil
}

var (
	formTitleStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	focusedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	blurredStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
)

// FormModel is the bubbletea model of the participant information dialog.
type FormModel struct {
	form      Form
	focus     int
	err       error
	submitted bool
	cancelled bool
}

// NewFormModel creates the dialog model with the first field focused.
func NewFormModel() FormModel {
	return FormModel{form: NewForm()}
}

func (m FormModel) Init() tea.Cmd {
	return nil
}

func (m FormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	field := &m.form.Fields[m.focus]
	switch key.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.cancelled = true
		return m, tea.Quit
	case tea.KeyTab, tea.KeyDown:
		m.focus = (m.focus + 1) % len(m.form.Fields)
	case tea.KeyShiftTab, tea.KeyUp:
		m.focus = (m.focus - 1 + len(m.form.Fields)) % len(m.form.Fields)
	case tea.KeyLeft:
		field.Cycle(-1)
	case tea.KeyRight:
		field.Cycle(1)
	case tea.KeyBackspace:
		if len(field.Choices) == 0 && len(field.Value) > 0 {
			field.Value = field.Value[:len(field.Value)-1]
		}
	case tea.KeyRunes:
		if len(field.Choices) == 0 {
			field.Value += string(key.Runes)
		}
	case tea.KeyEnter:
		if _, err := m.form.Info(); err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		m.submitted = true
		return m, tea.Quit
	}
	return m, nil
}

func (m FormModel) View() string {
	var b strings.Builder
	b.WriteString(formTitleStyle.Render("Participant Information"))
	b.WriteString("\n")
	for i, f := range m.form.Fields {
		line := fmt.Sprintf("%-15s %s", f.Label+":", f.Value)
		if len(f.Choices) > 0 {
			line = fmt.Sprintf("%-15s < %s > %s", f.Label+":", f.Value, f.Hint())
		}
		if i == m.focus {
			b.WriteString(focusedStyle.Render("> " + line))
		} else {
			b.WriteString(blurredStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\ntab: next field  ←/→: change choice  enter: OK  esc: cancel\n")
	return b.String()
}

// Result returns the collected information, ErrCancelled if dismissed.
func (m FormModel) Result() (models.ParticipantInfo, error) {
	if m.cancelled || !m.submitted {
		return models.ParticipantInfo{}, ErrCancelled
	}
	return m.form.Info()
}
