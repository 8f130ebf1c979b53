// Package ui renders a live view of a running build.
package ui

import (
	"context"
	"strings"
	"time"

	"github.com/ZacxDev/texgate/executor"
	"github.com/ZacxDev/texgate/report"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/pkg/errors"

	tea "github.com/charmbracelet/bubbletea"
)

// StatusSource is polled for the current build state.
type StatusSource interface {
	Snapshot() []executor.ExerciseState
	Done() (executor.RunResult, bool)
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type Model struct {
	source      StatusSource
	viewport    viewport.Model
	spinner     spinner.Model
	done        bool
	interrupted bool
}

func NewModel(source StatusSource) *Model {
	return &Model{
		source:   source,
		viewport: viewport.New(120, 40),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

// Interrupted reports whether the user quit before the build finished.
func (m *Model) Interrupted() bool { return m.interrupted }

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.spinner.Tick)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.interrupted = true
			}
			m.done = true
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 2
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tickMsg:
		if _, done := m.source.Done(); done {
			m.done = true
			m.viewport.SetContent(StatusView(m.source.Snapshot(), ""))
			return m, tea.Quit
		}
		cmds = append(cmds, tickCmd())
	}

	m.viewport.SetContent(StatusView(m.source.Snapshot(), m.spinner.View()))
	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	var sb strings.Builder
	sb.WriteString(m.viewport.View())
	if !m.done {
		sb.WriteString("\n\033[1mPress q to quit, up/down or j/k to scroll\033[0m")
	}
	return sb.String()
}

// StatusView renders every exercise with its targets. frame is shown next to
// running entries.
func StatusView(states []executor.ExerciseState, frame string) string {
	var sb strings.Builder
	sb.WriteString("texgate build status\n\n")

	for _, state := range states {
		sb.WriteString(report.FormatRow(prefix(state.Status, frame), state.Name, state.Status, elapsed(state.ExecutionStatus)))
		sb.WriteString("\n")
		if state.Status == executor.StateQueued {
			continue
		}
		for _, tgt := range state.Targets {
			sb.WriteString(report.FormatRow("  "+prefix(tgt.Status, frame), tgt.Name, tgt.Status, elapsed(tgt)))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func prefix(status, frame string) string {
	if status == executor.StateRunning && frame != "" {
		return frame + " "
	}
	return "  "
}

func elapsed(s executor.ExecutionStatus) time.Duration {
	if !s.EndTime.IsZero() {
		return s.Duration()
	}
	if !s.StartTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return 0
}

// Run shows the live view until the build reports completion or the user
// quits. It returns true if the user quit first.
func Run(ctx context.Context, source StatusSource, opts ...tea.ProgramOption) (bool, error) {
	model := NewModel(source)
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(model, opts...).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return false, errors.Wrap(err, "run status view")
	}
	if m, ok := final.(*Model); ok {
		return m.Interrupted(), nil
	}
	return model.Interrupted(), nil
}
