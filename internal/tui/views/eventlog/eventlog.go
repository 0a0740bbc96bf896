// Package eventlog provides the scrollable session event log panel.
package eventlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/examwatch/examwatch/internal/session"
	"github.com/examwatch/examwatch/internal/tui/theme"
)

const maxEntries = 500

// Entry is a single log line: a session event or a client notice.
type Entry struct {
	Seq     int // session event seq, 0 for notices
	Time    time.Time
	Kind    string // event kind wire name, or "ws", "err", "info"
	Message string
	Alert   bool
}

// Model holds event log state.
type Model struct {
	Entries []Entry
	Offset  int // scroll offset (from bottom)
	lastSeq int
}

func New() Model {
	return Model{}
}

// SetEvents replaces all session events, keeping client notices that are
// newer than the first event.
func (m *Model) SetEvents(events []session.Event) {
	var notices []Entry
	for _, e := range m.Entries {
		if e.Seq == 0 && (len(events) == 0 || !e.Time.Before(events[0].Time)) {
			notices = append(notices, e)
		}
	}
	m.Entries = m.Entries[:0]
	m.lastSeq = 0
	for _, ev := range events {
		m.AddEvent(ev)
	}
	m.Entries = append(m.Entries, notices...)
	m.cap()
	m.Offset = 0
}

// AddEvent appends a session event. Events already shown are ignored so a
// batch that overlaps a snapshot is harmless.
func (m *Model) AddEvent(ev session.Event) {
	if ev.Seq != 0 && ev.Seq <= m.lastSeq {
		return
	}
	m.lastSeq = ev.Seq
	m.Entries = append(m.Entries, Entry{
		Seq:     ev.Seq,
		Time:    ev.Time,
		Kind:    ev.Kind.String(),
		Message: ev.Message,
		Alert:   ev.IsAlert,
	})
	m.cap()
	m.Offset = 0
}

// Add appends a client notice.
func (m *Model) Add(kind, message string) {
	m.Entries = append(m.Entries, Entry{
		Time:    time.Now(),
		Kind:    kind,
		Message: message,
	})
	m.cap()
	m.Offset = 0
}

// Clear drops everything, used when a new session starts.
func (m *Model) Clear() {
	m.Entries = nil
	m.Offset = 0
	m.lastSeq = 0
}

func (m *Model) cap() {
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	max := len(m.Entries) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log in a panel of the given size.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 4
	if visibleLines < 3 {
		visibleLines = 3
	}

	title := theme.StyleHeader.Render(" EVENT LOG ")

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No events recorded yet.")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
	}

	end := len(m.Entries) - m.Offset
	start := end - visibleLines
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}

	var lines []string
	for i := start; i < end; i++ {
		lines = append(lines, renderEntry(m.Entries[i], innerW))
	}

	body := strings.Join(lines, "\n")
	scrollIndicator := ""
	if m.Offset > 0 {
		scrollIndicator = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}

	return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, body, scrollIndicator))
}

func renderEntry(e Entry, width int) string {
	ts := theme.StyleDimmed.Render(e.Time.Local().Format("15:04:05"))
	glyph := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Render(theme.KindGlyph(e.Kind))
	msg := e.Message
	if len(msg) > width-14 && width > 20 {
		msg = msg[:width-17] + "..."
	}
	style := lipgloss.NewStyle()
	switch {
	case e.Alert:
		style = style.Foreground(kindColor(e.Kind)).Bold(true)
	case e.Seq == 0:
		style = theme.StyleDimmed
	}
	return fmt.Sprintf("%s %s %s", ts, glyph, style.Render(msg))
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case "ws":
		return theme.ColorStopped
	case "err":
		return theme.ColorDanger
	case "info":
		return theme.ColorDimmed
	default:
		return theme.KindColor(kind)
	}
}
