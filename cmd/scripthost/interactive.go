package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/icyseptember2237/scripthost"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxEntries bounds the history kept on screen.
const maxEntries = 20

type replModel struct {
	err     error
	session *scripthost.Session
	out     *bytes.Buffer
	diag    *bytes.Buffer
	engine  string
	input   textinput.Model
	entries []replEntry
	line    int
}

type replEntry struct {
	source string
	output string
	failed bool
}

func runInteractive(ctx context.Context, cfg *scripthost.Config) error {
	var out, diag bytes.Buffer
	host, err := scripthost.NewHost(cfg, scripthost.WithOutput(&out, &diag))
	if err != nil {
		return err
	}
	s, err := host.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if p := s.Preamble(); p != "" {
		if _, err := s.Eval(p, "preamble"); err != nil {
			return fmt.Errorf("%w\n%s", err, strings.TrimSpace(diag.String()))
		}
	}

	final, err := tea.NewProgram(newReplModel(s, &out, &diag, cfg.Engine)).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(*replModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

func newReplModel(s *scripthost.Session, out, diag *bytes.Buffer, engine string) *replModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "puts(1+1)"
	ti.Width = 60
	ti.Focus()
	return &replModel{
		session: s,
		out:     out,
		diag:    diag,
		engine:  engine,
		input:   ti,
	}
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "ctrl+d", "esc":
			return m, tea.Quit
		case "enter":
			source := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if source == "" {
				return m, nil
			}
			if m.eval(source) {
				return m, tea.Quit
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// eval runs one line and records its output. It reports whether the error
// was fatal.
func (m *replModel) eval(source string) bool {
	m.line++
	v, err := m.session.Eval(source, fmt.Sprintf("repl:%d", m.line))

	output := m.out.String() + m.diag.String()
	m.out.Reset()
	m.diag.Reset()
	if err == nil && v != nil {
		output += fmt.Sprint(v)
	}

	m.entries = append(m.entries, replEntry{
		source: source,
		output: strings.TrimRight(output, "\n"),
		failed: err != nil,
	})
	if len(m.entries) > maxEntries {
		m.entries = m.entries[len(m.entries)-maxEntries:]
	}

	if err != nil && scripthost.IsFatal(err) {
		m.err = err
		return true
	}
	return false
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("scripthost"))
	b.WriteString(" ")
	b.WriteString(m.engine)
	b.WriteString("\n\n")

	for _, e := range m.entries {
		b.WriteString(sourceStyle.Render("> " + e.source))
		b.WriteString("\n")
		if e.output != "" {
			style := resultStyle
			if e.failed {
				style = errorStyle
			}
			b.WriteString(style.Render(e.output))
			b.WriteString("\n")
		}
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter evaluate • esc quit"))
	return b.String()
}
