package session

import (
	"sync"
)

// Log is the append-only, ordered record of a session's events. Insertion
// order is arrival order; entries are never edited or removed except by
// Reset at the start of a new session.
type Log struct {
	mu     sync.RWMutex
	events []Event
}

func NewLog() *Log {
	return &Log{}
}

// Append stores ev, stamping it with the next sequence number, and returns
// the stored copy.
func (l *Log) Append(ev Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.Seq = len(l.events) + 1
	l.events = append(l.events, ev)
	return ev
}

// All returns a copy of every event in order.
func (l *Log) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]Event, len(l.events))
	copy(result, l.events)
	return result
}

// Since returns a copy of the events with Seq greater than seq.
func (l *Log) Since(seq int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(l.events) {
		return []Event{}
	}
	result := make([]Event, len(l.events)-seq)
	copy(result, l.events[seq:])
	return result
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
