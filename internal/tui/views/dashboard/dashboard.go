// Package dashboard provides the counters row, the per-kind alert
// breakdown and the signal health table.
package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/examwatch/examwatch/internal/monitor"
	"github.com/examwatch/examwatch/internal/session"
	"github.com/examwatch/examwatch/internal/tui/theme"
)

var alertKinds = []session.Kind{
	session.KindNoFace,
	session.KindLookingAway,
	session.KindMultiFace,
	session.KindSuspiciousObject,
	session.KindSuspiciousAudio,
}

var signalOrder = []string{"faces", "objects", "audio"}

// Model holds the dashboard state.
type Model struct {
	Width    int
	counters session.Counters
	byKind   map[session.Kind]int
	events   int
	lastSeq  int
	health   map[string]monitor.SignalHealth
}

func New() Model {
	return Model{
		byKind: make(map[session.Kind]int),
		health: make(map[string]monitor.SignalHealth),
	}
}

// Reset replaces the tallies from a full event list.
func (m *Model) Reset(events []session.Event, counters session.Counters) {
	m.byKind = make(map[session.Kind]int)
	m.events = 0
	m.lastSeq = 0
	for _, ev := range events {
		m.count(ev)
	}
	m.counters = counters
}

// AddEvents tallies a batch. counters are the server's totals after it.
// Events already counted are skipped.
func (m *Model) AddEvents(events []session.Event, counters session.Counters) {
	for _, ev := range events {
		m.count(ev)
	}
	m.counters = counters
}

func (m *Model) count(ev session.Event) {
	if ev.Seq != 0 && ev.Seq <= m.lastSeq {
		return
	}
	m.lastSeq = ev.Seq
	m.events++
	if ev.IsAlert {
		m.byKind[ev.Kind]++
	}
}

// SetHealth records the latest health of one signal.
func (m *Model) SetHealth(h monitor.SignalHealth) {
	m.health[string(h.Signal)] = h
}

func (m Model) Counters() session.Counters { return m.counters }

// View renders the dashboard.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderCounters(width),
		m.renderBreakdown(width),
		m.renderHealth(width),
	)
}

func (m Model) renderCounters(width int) string {
	statStyle := lipgloss.NewStyle().Padding(0, 1)
	stats := []string{
		statStyle.Foreground(theme.ColorFocus).Render(fmt.Sprintf("Focus lost: %d", m.counters.FocusLost)),
		statStyle.Foreground(theme.ColorSuspect).Render(fmt.Sprintf("Suspicious: %d", m.counters.Suspicious)),
		statStyle.Foreground(theme.ColorDimmed).Render(fmt.Sprintf("Events: %d", m.events)),
	}
	content := strings.Join(stats, lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | "))

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

// renderBreakdown draws one bar per alert kind, scaled to the largest.
func (m Model) renderBreakdown(width int) string {
	peak := 0
	for _, k := range alertKinds {
		peak = max(peak, m.byKind[k])
	}

	const colName = 18
	barWidth := max(8, min(width-colName-12, 40))
	dimStyle := lipgloss.NewStyle().Foreground(theme.ColorDimmed)

	lines := []string{theme.StyleHeader.Render("  Alerts")}
	for _, k := range alertKinds {
		n := m.byKind[k]
		filled := 0
		if peak > 0 {
			filled = n * barWidth / peak
		}
		color := theme.KindColor(k.String())
		bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
			lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("░", barWidth-filled))
		name := dimStyle.Width(colName).Render(k.String())
		lines = append(lines, fmt.Sprintf("  %s %s %4d", name, bar, n))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderHealth(width int) string {
	dimStyle := lipgloss.NewStyle().Foreground(theme.ColorDimmed)
	header := fmt.Sprintf("  %-8s %-9s %8s %9s %7s  %s", "Signal", "Status", "Failures", "Malformed", "Dropped", "Last error")
	lines := []string{
		theme.StyleHeader.Render("  Sources"),
		dimStyle.Render(header),
	}

	for _, sig := range signalOrder {
		h, ok := m.health[sig]
		if !ok {
			h = monitor.SignalHealth{Status: monitor.StatusHealthy}
		}
		status := lipgloss.NewStyle().Foreground(theme.HealthColor(string(h.Status))).Width(9).Render(string(h.Status))
		lastErr := h.LastError
		if room := width - 52; room > 3 && len(lastErr) > room {
			lastErr = lastErr[:room-3] + "..."
		}
		lines = append(lines, fmt.Sprintf("  %-8s %s %8d %9d %7d  %s",
			sig, status, h.ProducerFailures, h.MalformedStreak, h.Dropped, dimStyle.Render(lastErr)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
