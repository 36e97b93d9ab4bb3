package manager

import (
	"errors"
	"fmt"

	"github.com/ernie/konsole/internal/domain"
)

var (
	ErrWrongState     = errors.New("server is in the wrong state")
	ErrNotReady       = errors.New("console manager is not ready")
	ErrMaintenance    = errors.New("maintenance mode is enabled")
	ErrReloginTooSoon = errors.New("relogin attempted too soon")
	ErrStopped        = errors.New("console manager is stopped")
)

// StateError is returned when an action's precondition on the server status
// does not hold. It wraps ErrWrongState.
type StateError struct {
	Action string
	Status domain.ServerStatus
	Reason string
}

func (e *StateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s server: %s", e.Action, e.Reason)
	}
	status := string(e.Status)
	if status == "" {
		status = "unknown"
	}
	return fmt.Sprintf("cannot %s server: it is %s", e.Action, status)
}

func (e *StateError) Unwrap() error { return ErrWrongState }
