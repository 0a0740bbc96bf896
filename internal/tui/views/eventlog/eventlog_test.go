package eventlog

import (
	"strings"
	"testing"
	"time"

	"github.com/examwatch/examwatch/internal/session"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func ev(seq int, kind session.Kind, msg string) session.Event {
	e := session.NewEvent(t0.Add(time.Duration(seq)*time.Second), kind, msg)
	e.Seq = seq
	return e
}

func TestAddEntry(t *testing.T) {
	m := New()
	m.Add("ws", "connected")
	if len(m.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(m.Entries))
	}
	if m.Entries[0].Kind != "ws" || m.Entries[0].Seq != 0 {
		t.Errorf("entry = %+v", m.Entries[0])
	}
}

func TestAddEventSkipsDuplicates(t *testing.T) {
	m := New()
	m.AddEvent(ev(1, session.KindSessionStart, "Session started: Ada"))
	m.AddEvent(ev(2, session.KindNoFace, "No face detected for >6s"))
	m.AddEvent(ev(2, session.KindNoFace, "No face detected for >6s"))
	m.AddEvent(ev(1, session.KindSessionStart, "Session started: Ada"))

	if len(m.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m.Entries))
	}
	if !m.Entries[1].Alert || m.Entries[1].Kind != "no_face" {
		t.Errorf("entry = %+v", m.Entries[1])
	}
}

func TestSetEventsReplaces(t *testing.T) {
	m := New()
	m.AddEvent(ev(1, session.KindSessionStart, "old"))
	m.AddEvent(ev(2, session.KindMultiFace, "old alert"))

	m.SetEvents([]session.Event{ev(1, session.KindSessionStart, "new")})
	if len(m.Entries) != 1 || m.Entries[0].Message != "new" {
		t.Fatalf("entries = %+v", m.Entries)
	}

	// A later batch continues from the snapshot.
	m.AddEvent(ev(2, session.KindLookingAway, "User looking away >5s"))
	if len(m.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(m.Entries))
	}
}

func TestMaxEntries(t *testing.T) {
	m := New()
	for i := 1; i <= maxEntries+50; i++ {
		m.AddEvent(ev(i, session.KindSuspiciousAudio, "msg"))
	}
	if len(m.Entries) != maxEntries {
		t.Errorf("expected %d entries, got %d", maxEntries, len(m.Entries))
	}
}

func TestScrollUpDown(t *testing.T) {
	m := New()
	for i := 0; i < 20; i++ {
		m.Add("info", "msg")
	}

	m.ScrollUp(5)
	if m.Offset != 5 {
		t.Errorf("expected offset 5, got %d", m.Offset)
	}
	m.ScrollDown(3)
	if m.Offset != 2 {
		t.Errorf("expected offset 2, got %d", m.Offset)
	}
	m.ScrollDown(10)
	if m.Offset != 0 {
		t.Errorf("expected offset 0, got %d", m.Offset)
	}
	m.ScrollUp(100)
	if m.Offset != 19 {
		t.Errorf("expected offset capped at 19, got %d", m.Offset)
	}
	m.Add("info", "new")
	if m.Offset != 0 {
		t.Error("adding entry should reset scroll to 0")
	}
}

func TestView(t *testing.T) {
	m := New()
	if v := m.View(80, 20); !strings.Contains(v, "No events") {
		t.Error("empty view should show 'No events' message")
	}

	m.AddEvent(ev(1, session.KindSessionStart, "Session started: Ada"))
	m.AddEvent(ev(2, session.KindSuspiciousObject, "Suspicious object: book"))
	v := m.View(80, 20)
	for _, want := range []string{"Session started: Ada", "Suspicious object: book"} {
		if !strings.Contains(v, want) {
			t.Errorf("view should contain %q", want)
		}
	}
}
