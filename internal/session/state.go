package session

import (
	"encoding/json"
	"time"
)

// State is the lifecycle position of a monitoring session.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

var stateNames = map[State]string{
	Idle:    "idle",
	Running: "running",
	Stopped: "stopped",
}

var stateFromName = map[string]State{
	"idle":    Idle,
	"running": Running,
	"stopped": Stopped,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

// DefaultCandidateName is used when a session is started without a name.
const DefaultCandidateName = "Unknown"

type Session struct {
	ID            string     `json:"id"`
	CandidateName string     `json:"candidateName"`
	State         State      `json:"state"`
	StartedAt     time.Time  `json:"startedAt"`
	StoppedAt     *time.Time `json:"stoppedAt,omitempty"`
}

// Clone returns a deep copy of the Session, duplicating pointer fields so
// the copy can be mutated independently of the original. Clone of nil is
// nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.StoppedAt != nil {
		t := *s.StoppedAt
		c.StoppedAt = &t
	}
	return &c
}

func (s *Session) IsRunning() bool {
	return s.State == Running
}

// Duration is measured to the stop time once stopped, otherwise to now.
// An idle session has no duration.
func (s *Session) Duration(now time.Time) time.Duration {
	switch s.State {
	case Running:
		return now.Sub(s.StartedAt)
	case Stopped:
		if s.StoppedAt != nil {
			return s.StoppedAt.Sub(s.StartedAt)
		}
	}
	return 0
}

// Snapshot is the read-only export view of a session: enough to produce a
// CSV or a formatted report without touching the engine.
type Snapshot struct {
	SessionID     string     `json:"sessionId"`
	CandidateName string     `json:"candidateName"`
	State         State      `json:"state"`
	StartedAt     time.Time  `json:"startedAt"`
	StoppedAt     *time.Time `json:"stoppedAt,omitempty"`
	DurationMs    int64      `json:"sessionDurationMs"`
	Counters      Counters   `json:"counters"`
	Events        []Event    `json:"events"`
}

// NewSnapshot assembles a snapshot. events must already be a copy.
func NewSnapshot(s *Session, counters Counters, events []Event, now time.Time) Snapshot {
	if events == nil {
		events = []Event{}
	}
	if s == nil {
		return Snapshot{State: Idle, Events: events, Counters: counters}
	}
	c := s.Clone()
	return Snapshot{
		SessionID:     c.ID,
		CandidateName: c.CandidateName,
		State:         c.State,
		StartedAt:     c.StartedAt,
		StoppedAt:     c.StoppedAt,
		DurationMs:    c.Duration(now).Milliseconds(),
		Counters:      counters,
		Events:        events,
	}
}
