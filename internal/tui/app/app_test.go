package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/examwatch/examwatch/internal/detect"
	"github.com/examwatch/examwatch/internal/monitor"
	"github.com/examwatch/examwatch/internal/session"
	"github.com/examwatch/examwatch/internal/tui/client"
	"github.com/examwatch/examwatch/internal/tui/views/report"
	"github.com/examwatch/examwatch/internal/ws"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestModel(t *testing.T, h *client.HTTPClient) Model {
	t.Helper()
	m := New(client.NewWSClient("ws://127.0.0.1:1/ws", ""), h)
	m.now = func() time.Time { return t0.Add(90 * time.Second) }
	m.width, m.height = 100, 40
	m.statusBar.Width = 100
	m.dashboard.Width = 100
	return m
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func ev(seq int, kind session.Kind, msg string) session.Event {
	e := session.NewEvent(t0.Add(time.Duration(seq)*time.Second), kind, msg)
	e.Seq = seq
	return e
}

func TestDisconnectOverlay(t *testing.T) {
	m := New(nil, nil)
	m.width = 80
	m.height = 24
	m.connected = false

	v := m.View()
	if !strings.Contains(v, "DISCONNECTED") {
		t.Error("disconnect overlay should contain 'DISCONNECTED'")
	}
	if !strings.Contains(v, "Reconnecting") {
		t.Error("disconnect overlay should contain 'Reconnecting'")
	}
}

func TestSnapshotThenEvents(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = update(t, m, client.WSConnectedMsg{})

	snap := session.Snapshot{
		SessionID:     "s1",
		CandidateName: "Ada",
		State:         session.Running,
		StartedAt:     t0,
		Counters:      session.Counters{FocusLost: 1},
		Events: []session.Event{
			ev(1, session.KindSessionStart, "Session started: Ada"),
			ev(2, session.KindNoFace, "No face detected for >6s"),
		},
	}
	m, _ = update(t, m, client.WSSnapshotMsg{Payload: ws.SnapshotPayload{
		Snapshot: snap,
		SourceHealth: []monitor.SignalHealth{
			{Signal: detect.SignalAudio, Status: monitor.StatusDegraded, MalformedStreak: 3},
		},
	}})

	// The batch overlaps the snapshot by one event.
	m, _ = update(t, m, client.WSEventsMsg{Payload: ws.EventsPayload{
		SessionID: "s1",
		Events: []session.Event{
			ev(2, session.KindNoFace, "No face detected for >6s"),
			ev(3, session.KindSuspiciousObject, "Suspicious object: cell phone"),
		},
		Counters: session.Counters{FocusLost: 1, Suspicious: 1},
	}})

	if n := len(m.log.Entries); n != 3 {
		t.Errorf("log entries = %d, want 3", n)
	}
	if got := m.dashboard.Counters(); got != (session.Counters{FocusLost: 1, Suspicious: 1}) {
		t.Errorf("counters = %+v", got)
	}
	if m.statusBar.Session == nil || m.statusBar.Session.CandidateName != "Ada" {
		t.Fatalf("status session = %+v", m.statusBar.Session)
	}

	v := m.View()
	for _, want := range []string{"Ada", "running", "01:30", "cell phone", "Suspicious: 1", "degraded"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestGapMarksStaleAndAppliesMessage(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = update(t, m, client.WSConnectedMsg{})

	m, cmd := update(t, m, client.WSGapMsg{Expected: 4, Got: 6, Next: client.WSEventsMsg{Payload: ws.EventsPayload{
		Events:   []session.Event{ev(6, session.KindSuspiciousAudio, "Suspicious audio")},
		Counters: session.Counters{Suspicious: 1},
	}}})
	if cmd == nil {
		t.Error("gap should keep reading")
	}
	if !m.statusBar.Stale {
		t.Error("gap should mark the view stale")
	}
	if len(m.log.Entries) != 1 {
		t.Errorf("log entries = %d, want the gapped message applied", len(m.log.Entries))
	}

	m, _ = update(t, m, client.WSSnapshotMsg{})
	if m.statusBar.Stale {
		t.Error("snapshot should clear stale")
	}
	if m.statusBar.Session != nil {
		t.Error("empty snapshot should clear the session")
	}
}

func TestNewSessionClearsLog(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = update(t, m, client.WSConnectedMsg{})
	m, _ = update(t, m, client.WSSessionMsg{Payload: ws.SessionPayload{
		Session: session.Session{ID: "s1", CandidateName: "Ada", State: session.Running, StartedAt: t0},
	}})
	m, _ = update(t, m, client.WSEventsMsg{Payload: ws.EventsPayload{
		Events: []session.Event{ev(1, session.KindSessionStart, "Session started: Ada")},
	}})

	// Same session stopping keeps the log.
	m, _ = update(t, m, client.WSSessionMsg{Payload: ws.SessionPayload{
		Session: session.Session{ID: "s1", CandidateName: "Ada", State: session.Stopped, StartedAt: t0},
	}})
	if len(m.log.Entries) != 1 {
		t.Fatalf("stop cleared the log: %d entries", len(m.log.Entries))
	}

	m, _ = update(t, m, client.WSSessionMsg{Payload: ws.SessionPayload{
		Session: session.Session{ID: "s2", CandidateName: "Grace", State: session.Running, StartedAt: t0},
	}})
	if len(m.log.Entries) != 0 {
		t.Errorf("new session kept %d entries", len(m.log.Entries))
	}
	if m.statusBar.Session.CandidateName != "Grace" {
		t.Errorf("session = %+v", m.statusBar.Session)
	}
}

func TestAlertShowsBanner(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = update(t, m, client.WSConnectedMsg{})
	m, cmd := update(t, m, client.WSAlertMsg{Payload: ws.AlertPayload{
		SessionID: "s1",
		Event:     ev(4, session.KindMultiFace, "Multiple faces detected"),
	}})
	if cmd == nil {
		t.Fatal("alert should return commands")
	}
	if !m.banner.Visible() {
		t.Error("banner should be visible after an alert")
	}
}

type fakeServer struct {
	started string
	stopped bool
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session/start", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CandidateName string `json:"candidateName"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.started = body.CandidateName
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(session.Session{ID: "s1", CandidateName: body.CandidateName, State: session.Running})
	})
	mux.HandleFunc("/api/session/stop", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no running session", http.StatusConflict)
	})
	mux.HandleFunc("/api/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Proctoring Report\n\n**Candidate:** Ada\n"))
	})
	mux.HandleFunc("/api/export.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="proctoring-ada.csv"`)
		_, _ = w.Write([]byte("Time,Kind,Message\n"))
	})
	return mux
}

func TestStartPrompt(t *testing.T) {
	f := &fakeServer{}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	m := newTestModel(t, client.NewHTTPClient(srv.URL, ""))
	m, _ = update(t, m, client.WSConnectedMsg{})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	if m.overlay != OverlayStart {
		t.Fatalf("overlay = %d, want start prompt", m.overlay)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("Ada")})
	if !strings.Contains(m.View(), "Candidate name") {
		t.Error("prompt not shown")
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.overlay != OverlayNone || cmd == nil {
		t.Fatalf("enter should close the prompt and start, overlay=%d", m.overlay)
	}
	res, ok := cmd().(sessionResultMsg)
	if !ok || res.err != nil {
		t.Fatalf("start result = %+v", res)
	}
	if f.started != "Ada" {
		t.Errorf("server saw name %q", f.started)
	}
}

func TestStopFailureIsLogged(t *testing.T) {
	srv := httptest.NewServer((&fakeServer{}).handler())
	defer srv.Close()

	m := newTestModel(t, client.NewHTTPClient(srv.URL, ""))
	m, _ = update(t, m, client.WSConnectedMsg{})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	m, _ = update(t, m, cmd())

	if len(m.log.Entries) != 1 || !strings.Contains(m.log.Entries[0].Message, "409") {
		t.Errorf("log = %+v", m.log.Entries)
	}
}

func TestReportOverlay(t *testing.T) {
	srv := httptest.NewServer((&fakeServer{}).handler())
	defer srv.Close()

	m := newTestModel(t, client.NewHTTPClient(srv.URL, ""))
	m.report = report.New("notty")
	m.report.SetSize(100, 30)
	m, _ = update(t, m, client.WSConnectedMsg{})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if m.overlay != OverlayReport {
		t.Fatalf("overlay = %d", m.overlay)
	}
	m, _ = update(t, m, cmd())
	if v := m.View(); !strings.Contains(v, "Proctoring Report") {
		t.Errorf("report view:\n%s", v)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.overlay != OverlayNone {
		t.Error("esc should close the report")
	}
}

func TestExportWritesFile(t *testing.T) {
	srv := httptest.NewServer((&fakeServer{}).handler())
	defer srv.Close()

	m := newTestModel(t, client.NewHTTPClient(srv.URL, ""))
	m.ExportDir = t.TempDir()
	m, _ = update(t, m, client.WSConnectedMsg{})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("e")})
	res, ok := cmd().(exportMsg)
	if !ok || res.err != nil {
		t.Fatalf("export result = %+v", res)
	}
	want := filepath.Join(m.ExportDir, "proctoring-ada.csv")
	if res.path != want {
		t.Errorf("path = %q, want %q", res.path, want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "Time,Kind,Message\n" {
		t.Errorf("file = %q, %v", data, err)
	}

	m, _ = update(t, m, res)
	if last := m.log.Entries[len(m.log.Entries)-1]; !strings.Contains(last.Message, "proctoring-ada.csv") {
		t.Errorf("last notice = %+v", last)
	}
}
