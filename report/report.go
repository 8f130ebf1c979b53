// Package report writes run results for CI and for people.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ZacxDev/texgate/executor"
	"github.com/ZacxDev/texgate/fs"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
)

// ActionOutputKey is the GitHub Actions step output listing rebuilt exercises.
const ActionOutputKey = "changed-exercises"

func ActionOutputLine(changed []string) string {
	return ActionOutputKey + "=" + strings.Join(changed, ",") + "\n"
}

// WriteActionOutput appends the changed-exercise output to the file named by
// GITHUB_OUTPUT, creating it if needed.
func WriteActionOutput(filesystem fs.FileSystem, path string, changed []string) error {
	f, err := filesystem.OpenAppend(path)
	if err != nil {
		return errors.Wrapf(err, "open action output %s", path)
	}
	if _, err := io.WriteString(f, ActionOutputLine(changed)); err != nil {
		f.Close()
		return errors.Wrapf(err, "write action output %s", path)
	}
	return errors.WithStack(f.Close())
}

// StatusStyle colours a status the way the live view does.
func StatusStyle(status string) lipgloss.Style {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	switch status {
	case executor.StateCompleted, executor.StateCached:
		style = style.Foreground(lipgloss.Color("82"))
	case executor.StateFailed:
		style = style.Foreground(lipgloss.Color("160"))
	case executor.StateSkipped, executor.StateQueued:
		style = style.Foreground(lipgloss.Color("243"))
	case executor.StateRolledBack:
		style = style.Foreground(lipgloss.Color("214"))
	}
	return style
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// FormatRow renders one exercise or target line with padded columns.
func FormatRow(prefix, name, status string, d time.Duration) string {
	padded := fmt.Sprintf("%-12s", status)
	return fmt.Sprintf("%s%-28s | %s | %s", prefix, name, StatusStyle(status).Render(padded), d.Round(time.Millisecond))
}

// Summary writes a table of every exercise that was attempted.
func Summary(w io.Writer, states []executor.ExerciseState) error {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("texgate summary"))
	sb.WriteString("\n\n")

	attempted, failed := 0, 0
	for _, state := range states {
		if state.Status == executor.StateQueued {
			continue
		}
		attempted++
		if state.Status == executor.StateFailed {
			failed++
		}
		sb.WriteString(FormatRow("", state.Name, state.Status, state.Duration()))
		if state.Outcome != "" {
			sb.WriteString("  (" + string(state.Outcome) + ")")
		}
		sb.WriteString("\n")
		for _, tgt := range state.Targets {
			sb.WriteString(FormatRow("  ", tgt.Name, tgt.Status, tgt.Duration()))
			if tgt.Status == executor.StateFailed {
				fmt.Fprintf(&sb, "  exit %d", tgt.ExitCode)
			}
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "\n%d attempted, %d failed, %d not run\n", attempted, failed, len(states)-attempted)

	_, err := io.WriteString(w, sb.String())
	return errors.WithStack(err)
}
