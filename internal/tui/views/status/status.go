package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/examwatch/examwatch/internal/export"
	"github.com/examwatch/examwatch/internal/session"
	"github.com/examwatch/examwatch/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Stale     bool // a sequence gap was seen since the last snapshot
	Session   *session.Session
	Width     int
}

func New() Model {
	return Model{}
}

// View renders the status bar as of now.
func (m Model) View(now time.Time) string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case !m.Connected:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	case m.Stale:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("◐ Resyncing")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + m.sessionLine(now)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) sessionLine(now time.Time) string {
	if m.Session == nil {
		return theme.StyleDimmed.Render("No session")
	}
	s := m.Session
	state := lipgloss.NewStyle().Foreground(theme.StateColor(s.State.String())).Render(s.State.String())
	name := theme.StyleHeader.Render(s.CandidateName)
	return fmt.Sprintf("%s  %s  %s", name, state, export.FormatDuration(s.Duration(now)))
}
