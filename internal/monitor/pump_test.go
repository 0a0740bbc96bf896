package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/examwatch/examwatch/internal/config"
	"github.com/examwatch/examwatch/internal/detect"
	"github.com/examwatch/examwatch/internal/session"
)

type sinkCall struct {
	signal    detect.Signal
	sessionID string
	err       error
}

// fakeSink records what the pump forwards.
type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *fakeSink) record(c sinkCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *fakeSink) ObserveFaces(id string, _ detect.FaceObservation) error {
	s.record(sinkCall{signal: detect.SignalFaces, sessionID: id})
	return nil
}

func (s *fakeSink) ObserveObjects(id string, _ detect.ObjectObservation) error {
	s.record(sinkCall{signal: detect.SignalObjects, sessionID: id})
	return nil
}

func (s *fakeSink) ObserveAudio(id string, _ detect.AudioSample) error {
	s.record(sinkCall{signal: detect.SignalAudio, sessionID: id})
	return nil
}

func (s *fakeSink) ReportSourceError(id string, sig detect.Signal, err error) {
	s.record(sinkCall{signal: sig, sessionID: id, err: err})
}

func (s *fakeSink) count(sig detect.Signal, withErr bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.signal == sig && (c.err != nil) == withErr {
			n++
		}
	}
	return n
}

func (s *fakeSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type countingFaces struct{ n atomic.Int64 }

func (f *countingFaces) NextFaces(context.Context) (detect.FaceObservation, error) {
	f.n.Add(1)
	return nil, nil
}

type failingObjects struct{}

func (failingObjects) DetectObjects(context.Context) (detect.ObjectObservation, error) {
	return nil, errors.New("model not loaded")
}

type panickingAudio struct{}

func (panickingAudio) SampleAudio(context.Context) (detect.AudioSample, error) {
	panic("buffer overrun")
}

func fastPump() config.PumpConfig {
	return config.PumpConfig{
		FrameInterval:  5 * time.Millisecond,
		ObjectInterval: 10 * time.Millisecond,
		AudioInterval:  10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPumpForwardsAndReports(t *testing.T) {
	sink := &fakeSink{}
	faces := &countingFaces{}
	p := NewPump(sink, Producers{Faces: faces, Objects: failingObjects{}, Audio: panickingAudio{}}, fastPump())

	if err := p.StartCapture(context.Background(), "sess-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "all producers to tick", func() bool {
		return sink.count(detect.SignalFaces, false) >= 3 &&
			sink.count(detect.SignalObjects, true) >= 1 &&
			sink.count(detect.SignalAudio, true) >= 1
	})
	if err := p.StopCapture(); err != nil {
		t.Fatal(err)
	}

	sink.mu.Lock()
	for _, c := range sink.calls {
		if c.sessionID != "sess-1" {
			t.Errorf("call tagged %q, want sess-1", c.sessionID)
		}
	}
	sink.mu.Unlock()

	// No producer runs after StopCapture returns.
	before := sink.total()
	time.Sleep(30 * time.Millisecond)
	if after := sink.total(); after != before {
		t.Errorf("pump kept running after stop: %d → %d calls", before, after)
	}
}

func TestPumpNilProducersSkipped(t *testing.T) {
	sink := &fakeSink{}
	faces := &countingFaces{}
	p := NewPump(sink, Producers{Faces: faces}, fastPump())

	if err := p.StartCapture(context.Background(), "s"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "face ticks", func() bool { return faces.n.Load() >= 2 })
	if err := p.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if sink.count(detect.SignalObjects, false)+sink.count(detect.SignalAudio, false) != 0 {
		t.Error("nil producers were polled")
	}
}

func TestPumpDoubleStart(t *testing.T) {
	p := NewPump(&fakeSink{}, Producers{}, fastPump())
	if err := p.StartCapture(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := p.StartCapture(context.Background(), "b"); err == nil {
		t.Error("second StartCapture should fail while running")
	}
	if err := p.StopCapture(); err != nil {
		t.Fatal(err)
	}
	// Stopping an idle pump is a no-op.
	if err := p.StopCapture(); err != nil {
		t.Errorf("idle StopCapture() = %v", err)
	}
}

// scriptedFaces returns an empty frame on every tick.
type scriptedFaces struct{}

func (scriptedFaces) NextFaces(context.Context) (detect.FaceObservation, error) {
	return detect.FaceObservation{}, nil
}

func TestPumpDrivesEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Session.NoFaceTimeout = 20 * time.Millisecond
	cfg.Pump = fastPump()

	e := NewEngine(cfg, nil)
	p := NewPump(e, Producers{Faces: scriptedFaces{}}, cfg.Pump)
	e.AddCapture(p)

	mustStart(t, e, "x")
	waitFor(t, "no-face event", func() bool { return e.Counters().FocusLost >= 1 })
	if _, err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	frozen := e.Counters()
	time.Sleep(50 * time.Millisecond)
	if e.Counters() != frozen {
		t.Error("counters changed after stop")
	}
	if last := e.Events()[len(e.Events())-1]; last.Kind != session.KindSessionStop {
		t.Errorf("last event = %s, want session_stop", last.Kind)
	}
}

// TestPumpSetConfigAppliesAtNextCapture verifies a new frame interval is
// picked up by the next StartCapture without rebuilding the pump.
func TestPumpSetConfigAppliesAtNextCapture(t *testing.T) {
	faces := &countingFaces{}
	slow := fastPump()
	slow.FrameInterval = 10 * time.Second
	p := NewPump(&fakeSink{}, Producers{Faces: faces}, slow)

	if err := p.StartCapture(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := faces.n.Load(); n != 0 {
		t.Errorf("frames pulled during 10s interval window = %d, want 0", n)
	}

	// Running capture keeps its cadence until restarted.
	p.SetConfig(fastPump())
	time.Sleep(50 * time.Millisecond)
	if n := faces.n.Load(); n != 0 {
		t.Errorf("SetConfig changed the running capture: %d frames", n)
	}

	if err := p.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if err := p.StartCapture(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	defer p.StopCapture()

	// With 5ms frames expect several pulls well within the deadline.
	waitFor(t, "frames at the new interval", func() bool { return faces.n.Load() >= 3 })
}
