package session

import (
	"crypto/sha256"
	"fmt"
)

// PrivacyFilter applies masking and kind filtering to snapshots and events
// before they are broadcast to clients. The zero value is a no-op filter.
// Exports are never filtered.
type PrivacyFilter struct {
	MaskCandidateNames bool
	HiddenKinds        []Kind
}

// IsAllowed reports whether events of the given kind may be broadcast.
// Lifecycle kinds are always allowed so clients can follow the session.
func (f *PrivacyFilter) IsAllowed(kind Kind) bool {
	if !kind.IsAlert() {
		return true
	}
	for _, k := range f.HiddenKinds {
		if k == kind {
			return false
		}
	}
	return true
}

// Apply returns a copy of the snapshot with the candidate name masked and
// hidden kinds removed. Counters are left intact. The original is never
// modified.
func (f *PrivacyFilter) Apply(s Snapshot) Snapshot {
	masked := s
	if f.MaskCandidateNames && masked.CandidateName != "" {
		masked.CandidateName = shortHash(masked.CandidateName)
	}
	masked.Events = f.FilterEvents(s.Events)
	if f.MaskCandidateNames {
		masked.Events = f.maskMessages(masked.Events, s.CandidateName)
	}
	return masked
}

// ApplySession masks a session header.
func (f *PrivacyFilter) ApplySession(s *Session) *Session {
	masked := s.Clone()
	if f.MaskCandidateNames && masked.CandidateName != "" {
		masked.CandidateName = shortHash(masked.CandidateName)
	}
	return masked
}

// FilterEvents returns a new slice with only the allowed events.
func (f *PrivacyFilter) FilterEvents(events []Event) []Event {
	result := make([]Event, 0, len(events))
	for _, ev := range events {
		if !f.IsAllowed(ev.Kind) {
			continue
		}
		result = append(result, ev)
	}
	return result
}

// maskMessages rewrites the start event, the only message that embeds the
// candidate name.
func (f *PrivacyFilter) maskMessages(events []Event, name string) []Event {
	out := make([]Event, len(events))
	for i, ev := range events {
		if ev.Kind == KindSessionStart && name != "" {
			ev.Message = StartMessage(shortHash(name))
		}
		out[i] = ev
	}
	return out
}

// MaskEvent applies the filter to a single live event. ok is false when the
// event must not be broadcast.
func (f *PrivacyFilter) MaskEvent(ev Event, candidateName string) (Event, bool) {
	if !f.IsAllowed(ev.Kind) {
		return Event{}, false
	}
	if f.MaskCandidateNames && ev.Kind == KindSessionStart && candidateName != "" {
		ev.Message = StartMessage(shortHash(candidateName))
	}
	return ev, true
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskCandidateNames && len(f.HiddenKinds) == 0
}

// StartMessage is the log line written when a session starts.
func StartMessage(candidateName string) string {
	return "Session started: " + candidateName
}

// StopMessage is the log line written when a session stops.
const StopMessage = "Session stopped."

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
