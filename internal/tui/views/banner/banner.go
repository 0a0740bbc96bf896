// Package banner draws the alert banner that springs open when an alert
// arrives and folds away a few seconds later.
package banner

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"

	"github.com/examwatch/examwatch/internal/session"
	"github.com/examwatch/examwatch/internal/tui/theme"
)

const (
	fps      = 30
	holdFor  = 3 * time.Second
	settleAt = 0.01
)

// FrameMsg advances the banner animation.
type FrameMsg struct{ id int }

// Model is an alert banner whose width fraction follows a spring.
type Model struct {
	spring   harmonica.Spring
	pos, vel float64
	target   float64
	kind     session.Kind
	message  string
	shownAt  time.Time
	id       int
	running  bool
}

func New() Model {
	return Model{spring: harmonica.NewSpring(harmonica.FPS(fps), 8.0, 0.6)}
}

// Show opens the banner for ev and returns the command that drives it.
func (m *Model) Show(ev session.Event, now time.Time) tea.Cmd {
	m.kind = ev.Kind
	m.message = ev.Message
	m.shownAt = now
	m.target = 1
	if m.running {
		return nil
	}
	m.running = true
	m.id++
	return m.frame()
}

func (m Model) frame() tea.Cmd {
	id := m.id
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return FrameMsg{id: id} })
}

// Update steps the spring on each frame. The banner starts closing once
// it has been held open long enough and stops ticking when it settles.
func (m Model) Update(msg tea.Msg, now time.Time) (Model, tea.Cmd) {
	f, ok := msg.(FrameMsg)
	if !ok || f.id != m.id || !m.running {
		return m, nil
	}
	if m.target == 1 && now.Sub(m.shownAt) >= holdFor {
		m.target = 0
	}
	m.pos, m.vel = m.spring.Update(m.pos, m.vel, m.target)
	if m.target == 0 && m.pos < settleAt && m.vel <= 0 {
		m.pos, m.vel = 0, 0
		m.running = false
		return m, nil
	}
	return m, m.frame()
}

// Visible reports whether any of the banner is on screen.
func (m Model) Visible() bool {
	return m.running || m.pos > settleAt
}

func (m Model) View(width int) string {
	if !m.Visible() || width <= 0 {
		return ""
	}
	frac := m.pos
	if frac > 1 {
		frac = 1
	}
	w := int(frac * float64(width))
	if w < 1 {
		return ""
	}
	text := theme.KindGlyph(m.kind.String()) + " " + m.message
	return theme.StyleAlert.
		Width(w).
		MaxWidth(w).
		MaxHeight(1).
		Render(text)
}
