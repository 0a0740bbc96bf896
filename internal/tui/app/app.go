package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/examwatch/examwatch/internal/config"
	"github.com/examwatch/examwatch/internal/session"
	"github.com/examwatch/examwatch/internal/tui/client"
	"github.com/examwatch/examwatch/internal/tui/theme"
	"github.com/examwatch/examwatch/internal/tui/views/banner"
	"github.com/examwatch/examwatch/internal/tui/views/dashboard"
	"github.com/examwatch/examwatch/internal/tui/views/eventlog"
	"github.com/examwatch/examwatch/internal/tui/views/report"
	"github.com/examwatch/examwatch/internal/tui/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayStart
	OverlayReport
)

// Results of HTTP commands.
type (
	sessionResultMsg struct {
		action string
		err    error
	}
	reportMsg struct {
		markdown string
		err      error
	}
	exportMsg struct {
		path string
		err  error
	}
	soundMsg struct {
		sound *config.SoundConfig
	}
	tickMsg time.Time
)

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys    KeyMap
	width   int
	height  int
	overlay Overlay
	now     func() time.Time

	// ExportDir is where exported CSV files are written.
	ExportDir string

	statusBar status.Model
	dashboard dashboard.Model
	log       eventlog.Model
	banner    banner.Model
	report    report.Model
	nameInput textinput.Model

	connected bool
	sound     *config.SoundConfig
}

// New creates the root model.
func New(ws *client.WSClient, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())

	ti := textinput.New()
	ti.Placeholder = session.DefaultCandidateName
	ti.CharLimit = 120
	ti.Width = 40

	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		now:       time.Now,
		ExportDir: ".",
		statusBar: status.New(),
		dashboard: dashboard.New(),
		log:       eventlog.New(),
		banner:    banner.New(),
		report:    report.New("dark"),
		nameInput: ti,
	}
}

// Init starts the WebSocket connection and the clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.dashboard.Width = msg.Width
		m.report.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tick()

	case banner.FrameMsg:
		var cmd tea.Cmd
		m.banner, cmd = m.banner.Update(msg, m.now())
		return m, cmd

	case sessionResultMsg:
		if msg.err != nil {
			m.log.Add("error", fmt.Sprintf("%s failed: %v", msg.action, msg.err))
		}
		return m, nil

	case reportMsg:
		if msg.err != nil {
			m.overlay = OverlayNone
			m.log.Add("error", fmt.Sprintf("report failed: %v", msg.err))
			return m, nil
		}
		m.report.SetMarkdown(msg.markdown)
		return m, nil

	case soundMsg:
		m.sound = msg.sound
		return m, nil

	case exportMsg:
		if msg.err != nil {
			m.log.Add("error", fmt.Sprintf("export failed: %v", msg.err))
		} else {
			m.log.Add("export", "Saved "+msg.path)
		}
		return m, nil
	}

	return m.handleStream(msg)
}

// handleStream applies WebSocket messages. Every branch re-issues the read
// loop exactly once.
func (m Model) handleStream(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		return m, tea.Batch(m.ws.ReadLoop(m.ctx), m.fetchSound())

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		return m, m.ws.Listen(m.ctx)

	case client.WSGapMsg:
		m.statusBar.Stale = true
		if msg.Next == nil {
			return m, m.ws.ReadLoop(m.ctx)
		}
		return m.handleStream(msg.Next)

	case client.WSSnapshotMsg:
		m.applySnapshot(msg.Payload.Snapshot)
		for _, h := range msg.Payload.SourceHealth {
			m.dashboard.SetHealth(h)
		}
		m.statusBar.Stale = false
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSSessionMsg:
		s := msg.Payload.Session
		if cur := m.statusBar.Session; cur == nil || cur.ID != s.ID {
			m.log.Clear()
			m.dashboard.Reset(nil, msg.Payload.Counters)
		}
		m.statusBar.Session = &s
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSEventsMsg:
		for _, ev := range msg.Payload.Events {
			m.log.AddEvent(ev)
		}
		m.dashboard.AddEvents(msg.Payload.Events, msg.Payload.Counters)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSAlertMsg:
		show := m.banner.Show(msg.Payload.Event, m.now())
		cmds := []tea.Cmd{m.ws.ReadLoop(m.ctx), show}
		if m.audible() {
			cmds = append(cmds, bell)
		}
		return m, tea.Batch(cmds...)

	case client.WSSourceHealthMsg:
		m.dashboard.SetHealth(msg.Payload)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSErrorMsg:
		m.log.Add("error", msg.Payload.Message)
		return m, m.ws.ReadLoop(m.ctx)
	}

	return m, nil
}

func (m *Model) applySnapshot(snap session.Snapshot) {
	if snap.SessionID == "" {
		m.statusBar.Session = nil
	} else {
		m.statusBar.Session = &session.Session{
			ID:            snap.SessionID,
			CandidateName: snap.CandidateName,
			State:         snap.State,
			StartedAt:     snap.StartedAt,
			StoppedAt:     snap.StoppedAt,
		}
	}
	m.log.SetEvents(snap.Events)
	m.dashboard.Reset(snap.Events, snap.Counters)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.overlay {
	case OverlayStart:
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
			m.nameInput.Blur()
			return m, nil
		case key.Matches(msg, m.keys.Enter):
			name := m.nameInput.Value()
			m.overlay = OverlayNone
			m.nameInput.Blur()
			m.nameInput.SetValue("")
			return m, m.startSession(name)
		}
		var cmd tea.Cmd
		m.nameInput, cmd = m.nameInput.Update(msg)
		return m, cmd

	case OverlayReport:
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Report):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.report.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.report.ScrollDown(1)
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Start):
		m.overlay = OverlayStart
		cmd := m.nameInput.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Stop):
		return m, m.stopSession()

	case key.Matches(msg, m.keys.Report):
		m.overlay = OverlayReport
		m.report.SetMarkdown("")
		return m, m.fetchReport()

	case key.Matches(msg, m.keys.Export):
		return m, m.exportCSV()

	case key.Matches(msg, m.keys.Up):
		m.log.ScrollUp(1)
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.log.ScrollDown(1)
		return m, nil
	}

	return m, nil
}

func (m Model) startSession(name string) tea.Cmd {
	h := m.http
	return func() tea.Msg {
		_, err := h.StartSession(name)
		return sessionResultMsg{action: "start", err: err}
	}
}

func (m Model) stopSession() tea.Cmd {
	h := m.http
	return func() tea.Msg {
		_, err := h.StopSession()
		return sessionResultMsg{action: "stop", err: err}
	}
}

func (m Model) fetchReport() tea.Cmd {
	h := m.http
	return func() tea.Msg {
		md, err := h.GetReport()
		return reportMsg{markdown: md, err: err}
	}
}

// fetchSound loads the alert sound settings. A failure leaves alerts
// silent.
func (m Model) fetchSound() tea.Cmd {
	h := m.http
	return func() tea.Msg {
		s, err := h.GetConfig()
		if err != nil {
			return soundMsg{}
		}
		return soundMsg{sound: s}
	}
}

func (m Model) audible() bool {
	return m.sound != nil && m.sound.Enabled && m.sound.MasterVolume*m.sound.AlertVolume > 0
}

// bell rings the terminal bell, the one tone a terminal can make.
func bell() tea.Msg {
	fmt.Fprint(os.Stderr, "\a")
	return nil
}

func (m Model) exportCSV() tea.Cmd {
	h, dir := m.http, m.ExportDir
	return func() tea.Msg {
		data, name, err := h.ExportCSV()
		if err != nil {
			return exportMsg{err: err}
		}
		if name == "" {
			name = "session.csv"
		}
		path := filepath.Join(dir, filepath.Base(name))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return exportMsg{err: err}
		}
		return exportMsg{path: path}
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if !m.connected {
		return m.renderDisconnected()
	}

	top := []string{m.statusBar.View(m.now())}
	if b := m.banner.View(m.width); b != "" {
		top = append(top, b)
	}

	var body string
	switch m.overlay {
	case OverlayReport:
		body = m.report.View()
	default:
		top = append(top, m.dashboard.View())
	}

	footer := m.renderFooter()
	if body == "" {
		used := lipgloss.Height(lipgloss.JoinVertical(lipgloss.Left, top...)) + lipgloss.Height(footer)
		body = m.log.View(m.width, max(3, m.height-used))
	}

	sections := append(top, body, footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderFooter() string {
	if m.overlay == OverlayStart {
		return theme.StyleBorder.Render("Candidate name: " + m.nameInput.View() + theme.StyleDimmed.Render("  enter:start  esc:cancel"))
	}
	return theme.StyleDimmed.Render("  s:start  x:stop  r:report  e:export csv  j/k:scroll  q:quit")
}

func (m Model) renderDisconnected() string {
	box := lipgloss.NewStyle().
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorDanger).
		Padding(1, 4).
		Render(lipgloss.JoinVertical(lipgloss.Center,
			lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED"),
			theme.StyleDimmed.Render("Reconnecting to examwatchd..."),
		))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
