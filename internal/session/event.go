package session

import (
	"encoding/json"
	"time"
)

// Kind classifies a session event.
type Kind int

const (
	KindSessionStart Kind = iota
	KindSessionStop
	KindNoFace
	KindLookingAway
	KindMultiFace
	KindSuspiciousObject
	KindSuspiciousAudio
)

var kindNames = map[Kind]string{
	KindSessionStart:     "session_start",
	KindSessionStop:      "session_stop",
	KindNoFace:           "no_face",
	KindLookingAway:      "looking_away",
	KindMultiFace:        "multi_face",
	KindSuspiciousObject: "suspicious_object",
	KindSuspiciousAudio:  "suspicious_audio",
}

var kindFromName = map[string]Kind{
	"session_start":     KindSessionStart,
	"session_stop":      KindSessionStop,
	"no_face":           KindNoFace,
	"looking_away":      KindLookingAway,
	"multi_face":        KindMultiFace,
	"suspicious_object": KindSuspiciousObject,
	"suspicious_audio":  KindSuspiciousAudio,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a wire name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindFromName[name]
	return k, ok
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := kindFromName[s]; ok {
		*k = v
	}
	return nil
}

// IsAlert reports whether events of this kind are anomalies. Lifecycle
// kinds are not.
func (k Kind) IsAlert() bool {
	return k != KindSessionStart && k != KindSessionStop
}

// Event is a single entry in the session log.
type Event struct {
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	IsAlert bool      `json:"isAlert"`
}

// NewEvent builds an event with IsAlert derived from kind. Seq is assigned
// by the log on append.
func NewEvent(at time.Time, kind Kind, message string) Event {
	return Event{
		Time:    at,
		Kind:    kind,
		Message: message,
		IsAlert: kind.IsAlert(),
	}
}

// Counters are the running per-session totals shown to the operator.
type Counters struct {
	FocusLost  int `json:"focusLostCount"`
	Suspicious int `json:"suspiciousCount"`
}

// Apply increments the counter that kind maps to. Lifecycle kinds are a
// no-op.
func (c *Counters) Apply(kind Kind) {
	switch kind {
	case KindNoFace, KindLookingAway:
		c.FocusLost++
	case KindMultiFace, KindSuspiciousObject, KindSuspiciousAudio:
		c.Suspicious++
	}
}

// CountersFor recomputes counters from a list of events.
func CountersFor(events []Event) Counters {
	var c Counters
	for _, ev := range events {
		c.Apply(ev.Kind)
	}
	return c
}
