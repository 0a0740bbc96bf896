package detect

import "fmt"

// MalformedObservationError reports an observation that is missing required
// fields. The observation is skipped as a whole; the session continues.
type MalformedObservationError struct {
	Signal Signal
	Index  int // element within the observation, -1 for the whole observation
	Reason string
}

func (e *MalformedObservationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed %s observation: %s", e.Signal, e.Reason)
	}
	return fmt.Sprintf("malformed %s observation at %d: %s", e.Signal, e.Index, e.Reason)
}

func malformed(signal Signal, index int, err error) error {
	return &MalformedObservationError{Signal: signal, Index: index, Reason: err.Error()}
}
