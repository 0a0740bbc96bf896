// Package report shows the server's Markdown session report in a
// scrollable overlay.
package report

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/examwatch/examwatch/internal/tui/theme"
)

// Model is the report overlay.
type Model struct {
	viewport viewport.Model
	style    string
	markdown string
	width    int
	height   int
}

// New returns an empty report view. style is a glamour standard style
// name such as "dark" or "notty".
func New(style string) Model {
	if style == "" {
		style = "dark"
	}
	return Model{
		viewport: viewport.New(80, 20),
		style:    style,
	}
}

// SetSize resizes the overlay and re-renders the current report.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = max(20, width-4)
	m.viewport.Height = max(3, height-4)
	if m.markdown != "" {
		m.viewport.SetContent(m.render(m.markdown))
	}
}

// SetMarkdown replaces the report and scrolls to the top.
func (m *Model) SetMarkdown(md string) {
	m.markdown = md
	m.viewport.SetContent(m.render(md))
	m.viewport.GotoTop()
}

// render falls back to the raw Markdown when glamour cannot render it.
func (m Model) render(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(m.viewport.Width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

func (m *Model) ScrollUp(n int)   { m.viewport.ScrollUp(n) }
func (m *Model) ScrollDown(n int) { m.viewport.ScrollDown(n) }

func (m Model) View() string {
	title := theme.StyleHeader.Render(" Session report ")
	hint := theme.StyleDimmed.Render(" j/k scroll  esc close")
	body := m.viewport.View()
	if m.markdown == "" {
		body = theme.StyleDimmed.Render("Loading report...")
	}
	return theme.StyleBorder.
		Width(max(20, m.width-2)).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, body, hint))
}
