// Package monitor owns the proctoring session state machine. The Engine
// routes observations into the per-signal analyzers, appends what they raise
// to the event log, keeps the counters in step with the log, and tells
// observers about every change. The Pump drives producers at their
// cadences while a session runs.
package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examwatch/examwatch/internal/clock"
	"github.com/examwatch/examwatch/internal/config"
	"github.com/examwatch/examwatch/internal/detect"
	"github.com/examwatch/examwatch/internal/session"
)

// Observer receives engine changes in log order. Methods are called with the
// engine lock held: they must not block and must not call back into the
// engine.
type Observer interface {
	SessionChanged(s session.Session, counters session.Counters)
	EventAppended(ev session.Event, counters session.Counters)
	HealthChanged(h SignalHealth)
}

// AlertSink receives alert events only. The same locking rules as Observer
// apply.
type AlertSink interface {
	Alert(ev session.Event)
}

// AlertFunc adapts a function to AlertSink.
type AlertFunc func(ev session.Event)

func (f AlertFunc) Alert(ev session.Event) { f(ev) }

const dropLogInterval = 10 * time.Second

type Engine struct {
	// lifeMu serializes Start and Stop, including the capture hooks, which
	// run without mu held.
	lifeMu   sync.Mutex
	captures []Capture
	cancel   context.CancelFunc

	mu        sync.Mutex // protects everything below
	cfg       *config.Config
	clock     clock.Clock
	current   *session.Session
	counters  session.Counters
	events    *session.Log
	attention *detect.Attention
	objects   *detect.ObjectPolicy
	audio     *detect.Audio
	observers []Observer
	alerts    []AlertSink
	health    map[detect.Signal]*signalHealth

	dropped     int64 // observations discarded since last log
	lastDropLog time.Time
}

// NewEngine returns an idle engine. A nil clock means the process clock.
func NewEngine(cfg *config.Config, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	health := make(map[detect.Signal]*signalHealth, len(signals))
	for _, sig := range signals {
		health[sig] = newSignalHealth()
	}
	return &Engine{
		cfg:    cfg,
		clock:  clk,
		events: session.NewLog(),
		health: health,
	}
}

// AddCapture registers a collaborator started and stopped with each session.
func (e *Engine) AddCapture(c Capture) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	e.captures = append(e.captures, c)
}

// Subscribe registers an observer for all changes.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// SubscribeAlerts registers a sink for alert events.
func (e *Engine) SubscribeAlerts(s AlertSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = append(e.alerts, s)
}

// SetConfig replaces the engine's config. Detector thresholds are read at
// the next Start; a running session keeps the ones it started with.
func (e *Engine) SetConfig(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *Engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Start begins a new session for candidateName, discarding the previous
// session's log and counters. It fails with an InvalidStateError while a
// session is running, and leaves the previous session untouched if any
// capture collaborator fails to start.
func (e *Engine) Start(candidateName string) (*session.Session, error) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	if e.current != nil && e.current.IsRunning() {
		e.mu.Unlock()
		return nil, &InvalidStateError{Op: "start", State: session.Running}
	}
	cfg := e.cfg
	e.mu.Unlock()

	name := strings.TrimSpace(candidateName)
	if name == "" {
		name = session.DefaultCandidateName
	}
	id := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	for i, c := range e.captures {
		if err := c.StartCapture(ctx, id); err != nil {
			cancel()
			stopCaptures(e.captures[:i])
			return nil, fmt.Errorf("start capture: %w", err)
		}
	}
	e.cancel = cancel

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.current = &session.Session{
		ID:            id,
		CandidateName: name,
		State:         session.Running,
		StartedAt:     now,
	}
	e.counters = session.Counters{}
	e.events.Reset()
	e.attention = detect.NewAttention(cfg.Session.Attention(), now)
	e.objects = detect.NewObjectPolicy(cfg.Session.Objects())
	e.audio = detect.NewAudio(cfg.Session.Audio())
	e.resetHealthLocked(now)

	e.notifySessionLocked()
	e.onEventLocked(session.NewEvent(now, session.KindSessionStart, session.StartMessage(name)))

	log.Printf("[engine] session %s started for %q", id, name)
	return e.current.Clone(), nil
}

// Stop ends the running session. Observations arriving afterwards are
// discarded. It fails with an InvalidStateError when no session is running.
func (e *Engine) Stop() (*session.Session, error) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	stopped, counters, err := e.endSession()
	if err != nil {
		return nil, err
	}

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	stopCaptures(e.captures)

	log.Printf("[engine] session %s stopped (focus lost %d, suspicious %d)",
		stopped.ID, counters.FocusLost, counters.Suspicious)
	return stopped, nil
}

// endSession marks the running session stopped and notifies observers.
func (e *Engine) endSession() (*session.Session, session.Counters, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || !e.current.IsRunning() {
		return nil, session.Counters{}, &InvalidStateError{Op: "stop", State: e.stateLocked()}
	}

	now := e.clock.Now()
	e.current.State = session.Stopped
	e.current.StoppedAt = &now
	e.attention, e.objects, e.audio = nil, nil, nil

	e.notifySessionLocked()
	e.onEventLocked(session.NewEvent(now, session.KindSessionStop, session.StopMessage))
	return e.current.Clone(), e.counters, nil
}

func stopCaptures(captures []Capture) {
	for _, c := range captures {
		if err := c.StopCapture(); err != nil {
			log.Printf("[engine] stop capture: %v", err)
		}
	}
}

// ObserveFaces feeds one analyzed frame. sessionID may be empty to target
// whichever session is running.
func (e *Engine) ObserveFaces(sessionID string, obs detect.FaceObservation) error {
	return e.observe(sessionID, detect.SignalFaces, func(now time.Time) ([]session.Event, error) {
		return e.attention.Observe(now, obs)
	})
}

// ObserveObjects feeds one object-detection cycle.
func (e *Engine) ObserveObjects(sessionID string, obs detect.ObjectObservation) error {
	return e.observe(sessionID, detect.SignalObjects, func(now time.Time) ([]session.Event, error) {
		return e.objects.Observe(now, obs)
	})
}

// ObserveAudio feeds one audio sampling window.
func (e *Engine) ObserveAudio(sessionID string, sample detect.AudioSample) error {
	return e.observe(sessionID, detect.SignalAudio, func(now time.Time) ([]session.Event, error) {
		return e.audio.Observe(now, sample)
	})
}

func (e *Engine) observe(sessionID string, sig detect.Signal, analyze func(time.Time) ([]session.Event, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.admitsLocked(sessionID) {
		e.recordDropLocked(sig)
		return ErrNotRunning
	}

	now := e.clock.Now()
	events, err := analyze(now)
	h := e.health[sig]
	if err != nil {
		log.Printf("[%s] skipping observation: %v", sig, err)
		h.recordMalformed(now, err)
		e.emitHealthLocked(sig, now)
		return err
	}
	h.recordSuccess()
	e.emitHealthLocked(sig, now)

	for _, ev := range events {
		e.onEventLocked(ev)
	}
	return nil
}

// ReportSourceError records that a producer failed to deliver an
// observation for sessionID.
func (e *Engine) ReportSourceError(sessionID string, sig detect.Signal, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.admitsLocked(sessionID) {
		return
	}
	h, ok := e.health[sig]
	if !ok {
		return
	}
	now := e.clock.Now()
	h.recordProducerFailure(now, err)
	log.Printf("[%s] producer error (%d consecutive): %v", sig, h.producerFailures, err)
	e.emitHealthLocked(sig, now)
}

func (e *Engine) admitsLocked(sessionID string) bool {
	if e.current == nil || !e.current.IsRunning() {
		return false
	}
	return sessionID == "" || sessionID == e.current.ID
}

// onEventLocked appends ev, applies it to the counters and dispatches it.
// Nothing is rejected or coalesced here; each analyzer debounces itself.
func (e *Engine) onEventLocked(ev session.Event) {
	ev = e.events.Append(ev)
	e.counters.Apply(ev.Kind)
	for _, o := range e.observers {
		o.EventAppended(ev, e.counters)
	}
	if ev.IsAlert {
		for _, s := range e.alerts {
			s.Alert(ev)
		}
	}
}

func (e *Engine) notifySessionLocked() {
	s := *e.current.Clone()
	for _, o := range e.observers {
		o.SessionChanged(s, e.counters)
	}
}

func (e *Engine) emitHealthLocked(sig detect.Signal, now time.Time) {
	snap, changed := e.health[sig].snapshotAndEmit(sig, e.cfg.Health.FailureThreshold, now)
	if !changed {
		return
	}
	log.Printf("[%s] health %s", sig, snap.Status)
	for _, o := range e.observers {
		o.HealthChanged(snap)
	}
}

func (e *Engine) resetHealthLocked(now time.Time) {
	for _, sig := range signals {
		h := e.health[sig]
		wasHealthy := h.lastEmittedStatus == StatusHealthy
		e.health[sig] = newSignalHealth()
		if !wasHealthy {
			snap := e.health[sig].snapshot(sig, e.cfg.Health.FailureThreshold, now)
			for _, o := range e.observers {
				o.HealthChanged(snap)
			}
		}
	}
}

// recordDropLocked counts a discarded observation. Drops are logged at most
// once per 10 seconds; late frames after every stop are normal.
func (e *Engine) recordDropLocked(sig detect.Signal) {
	if h, ok := e.health[sig]; ok {
		h.dropped++
	}
	e.dropped++
	now := e.clock.Now()
	if e.lastDropLog.IsZero() || now.Sub(e.lastDropLog) >= dropLogInterval {
		log.Printf("[engine] observations discarded: %d (no running session)", e.dropped)
		e.dropped = 0
		e.lastDropLog = now
	}
}

func (e *Engine) stateLocked() session.State {
	if e.current == nil {
		return session.Idle
	}
	return e.current.State
}

// State returns the current session state (Idle before the first start).
func (e *Engine) State() session.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Session returns a copy of the current or last session, or nil if none
// was ever started.
func (e *Engine) Session() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone()
}

func (e *Engine) Counters() session.Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// Events returns a copy of the event log.
func (e *Engine) Events() []session.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events.All()
}

// EventsSince returns the session the log belongs to, its counters and the
// events with a sequence number greater than seq, read together. The session
// is nil if none was started.
func (e *Engine) EventsSince(seq int) (*session.Session, session.Counters, []session.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone(), e.counters, e.events.Since(seq)
}

// Snapshot returns the export view of the current or last session.
func (e *Engine) Snapshot() session.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return session.NewSnapshot(e.current, e.counters, e.events.All(), e.clock.Now())
}

// Health returns per-signal health in faces, objects, audio order.
func (e *Engine) Health() []SignalHealth {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	out := make([]SignalHealth, 0, len(signals))
	for _, sig := range signals {
		out = append(out, e.health[sig].snapshot(sig, e.cfg.Health.FailureThreshold, now))
	}
	return out
}
