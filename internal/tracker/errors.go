package tracker

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidValue  = errors.New("invalid value")
	ErrUnknownName   = errors.New("unknown tracker")
	ErrDuplicateName = errors.New("duplicate tracker")
	ErrTimeout       = errors.New("wait timed out")
	ErrTypeMismatch  = errors.New("tracker type mismatch")

	// ErrInvalidTimeout is returned by WaitFor when the timeout is not positive.
	ErrInvalidTimeout = errors.New("timeout must be a positive non-zero duration")
)

// InvalidValueError is returned when an assignment violates a tracker's
// allowed-value policy. The tracker's state is left unchanged.
type InvalidValueError struct {
	Name  string
	Value any
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("status tracker '%s' received invalid status '%v'", e.Name, e.Value)
}

func (e *InvalidValueError) Unwrap() error { return ErrInvalidValue }

// UnknownNameError is returned when a registry operation names a tracker
// that was never added or has been removed.
type UnknownNameError struct {
	Name string
}

func (e *UnknownNameError) Error() string {
	return fmt.Sprintf("tracker for '%s' does not exist", e.Name)
}

func (e *UnknownNameError) Unwrap() error { return ErrUnknownName }

// DuplicateNameError is returned when AddTracker is called twice with the same name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("tracker for '%s' has already been added", e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// TimeoutError is returned by WaitFor when no emission satisfied the
// predicate before the deadline.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout of %v exceeded for status tracker '%s'", e.Timeout, e.Name)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// TypeMismatchError is returned when a typed registry accessor is used with a
// value type other than the one the tracker was created with.
type TypeMismatchError struct {
	Name string
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("tracker '%s' holds %s, not %s", e.Name, e.Got, e.Want)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }
