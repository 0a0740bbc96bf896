package ws

import (
	"github.com/examwatch/examwatch/internal/monitor"
	"github.com/examwatch/examwatch/internal/session"
)

type MessageType string

const (
	MsgSnapshot     MessageType = "snapshot"
	MsgEvents       MessageType = "events"
	MsgSession      MessageType = "session"
	MsgAlert        MessageType = "alert"
	MsgSourceHealth MessageType = "source_health"
	MsgError        MessageType = "error"
)

// WSMessage is the envelope for every frame sent to clients. Seq increases
// by one per message across all clients, so a gap tells a client it missed
// something and should wait for the next snapshot.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Snapshot     session.Snapshot       `json:"snapshot"`
	SourceHealth []monitor.SignalHealth `json:"sourceHealth,omitempty"`
}

// EventsPayload is a throttled batch of appended events in log order, with
// the counters as of the last one.
type EventsPayload struct {
	SessionID string           `json:"sessionId"`
	Events    []session.Event  `json:"events"`
	Counters  session.Counters `json:"counters"`
}

type SessionPayload struct {
	Session  session.Session  `json:"session"`
	Counters session.Counters `json:"counters"`
}

type AlertPayload struct {
	SessionID string        `json:"sessionId"`
	Event     session.Event `json:"event"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
