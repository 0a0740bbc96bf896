package banner

import (
	"strings"
	"testing"
	"time"

	"github.com/examwatch/examwatch/internal/session"
)

func TestBannerOpensAndCloses(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := New()
	if m.Visible() {
		t.Fatal("new banner should be hidden")
	}

	ev := session.NewEvent(now, session.KindMultiFace, "Multiple faces detected")
	if cmd := m.Show(ev, now); cmd == nil {
		t.Fatal("Show should start the animation")
	}
	frame := FrameMsg{id: m.id}

	// Open: a second of frames settles the spring near full width.
	for i := 0; i < fps; i++ {
		now = now.Add(time.Second / fps)
		m, _ = m.Update(frame, now)
	}
	if m.pos < 0.8 {
		t.Fatalf("pos after 1s = %.2f, want near 1", m.pos)
	}
	if v := m.View(80); !strings.Contains(v, "Multiple faces") {
		t.Errorf("open banner = %q", v)
	}

	// Held past holdFor, then closed.
	now = now.Add(holdFor)
	var cmd = m.frame()
	for i := 0; i < 10*fps && cmd != nil; i++ {
		now = now.Add(time.Second / fps)
		m, cmd = m.Update(frame, now)
	}
	if cmd != nil || m.Visible() {
		t.Fatalf("banner still open: pos=%.3f running=%v", m.pos, m.running)
	}
	if m.View(80) != "" {
		t.Error("closed banner should render nothing")
	}
}

func TestStaleFramesIgnored(t *testing.T) {
	now := time.Now()
	m := New()
	m.Show(session.NewEvent(now, session.KindNoFace, "No face detected for >6s"), now)

	m2, cmd := m.Update(FrameMsg{id: m.id + 1}, now)
	if cmd != nil || m2.pos != 0 {
		t.Error("frame from another run should be ignored")
	}
}

func TestShowWhileOpenRestartsHold(t *testing.T) {
	now := time.Now()
	m := New()
	m.Show(session.NewEvent(now, session.KindNoFace, "first"), now)
	later := now.Add(2 * time.Second)
	if cmd := m.Show(session.NewEvent(later, session.KindSuspiciousAudio, "second"), later); cmd != nil {
		t.Error("Show while running should reuse the running animation")
	}
	if m.message != "second" || !m.shownAt.Equal(later) {
		t.Errorf("banner = %q at %v", m.message, m.shownAt)
	}
}
