package monitor

import (
	"errors"
	"fmt"

	"github.com/examwatch/examwatch/internal/session"
)

var (
	// ErrInvalidState matches every InvalidStateError.
	ErrInvalidState = errors.New("invalid session state")
	// ErrNotRunning is returned for observations that were discarded because
	// no session is running or they belong to an earlier session.
	ErrNotRunning = errors.New("no running session")
)

// InvalidStateError reports a lifecycle command issued in the wrong state.
type InvalidStateError struct {
	Op    string
	State session.State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: session is %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}
