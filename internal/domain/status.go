package domain

import (
	"errors"
	"fmt"
)

// ServerStatus is the status label shown by the hosting console
type ServerStatus string

const (
	StatusOnline     ServerStatus = "online"
	StatusOffline    ServerStatus = "offline"
	StatusStarting   ServerStatus = "starting ..."
	StatusLoading    ServerStatus = "loading ..."
	StatusPreparing  ServerStatus = "preparing ..."
	StatusInQueue    ServerStatus = "waiting in queue"
	StatusSaving     ServerStatus = "saving ..."
	StatusStopping   ServerStatus = "stopping ..."
	StatusRestarting ServerStatus = "restarting ..."
	StatusCrashed    ServerStatus = "crashed"
)

// ServerStatuses lists every known server status in display order
var ServerStatuses = []ServerStatus{
	StatusOnline, StatusOffline, StatusStarting, StatusLoading, StatusPreparing,
	StatusInQueue, StatusSaving, StatusStopping, StatusRestarting, StatusCrashed,
}

// ManagerStatus is the lifecycle state of the console manager itself
type ManagerStatus string

const (
	ManagerStopped      ManagerStatus = "stopped"
	ManagerInitializing ManagerStatus = "initializing"
	ManagerReady        ManagerStatus = "ready"
	ManagerRestarting   ManagerStatus = "restarting"
	ManagerStopping     ManagerStatus = "stopping"
)

// ErrInvalidStatus is returned when a status value is not one of the defined labels.
var ErrInvalidStatus = errors.New("invalid status")

// InvalidStatusError names the enumeration and the rejected label.
// It wraps ErrInvalidStatus for errors.Is() compatibility.
type InvalidStatusError struct {
	Kind  string
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Kind, e.Value)
}

func (e *InvalidStatusError) Unwrap() error {
	return ErrInvalidStatus
}

// Validate returns nil if s is a known server status
func (s ServerStatus) Validate() error {
	switch s {
	case StatusOnline, StatusOffline, StatusStarting, StatusLoading, StatusPreparing,
		StatusInQueue, StatusSaving, StatusStopping, StatusRestarting, StatusCrashed:
		return nil
	default:
		return &InvalidStatusError{Kind: "server status", Value: string(s)}
	}
}

// IsTransitional reports whether the server is between online and offline
func (s ServerStatus) IsTransitional() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusCrashed:
		return false
	default:
		return true
	}
}

// Label is the short human-readable presence text for the status
func (s ServerStatus) Label() string {
	switch s {
	case StatusOnline:
		return "Online"
	case StatusOffline:
		return "Offline"
	case StatusPreparing, StatusLoading:
		return "Preparing..."
	case StatusStarting:
		return "Starting up..."
	case StatusRestarting:
		return "Restarting..."
	case StatusInQueue:
		return "In queue"
	case StatusStopping:
		return "Shutting down..."
	case StatusSaving:
		return "Saving..."
	case StatusCrashed:
		return "Crashed!"
	default:
		return string(s)
	}
}

// ParseServerStatus normalises a raw console label
func ParseServerStatus(raw string) (ServerStatus, error) {
	s := ServerStatus(raw)
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// Validate returns nil if s is a known manager status
func (s ManagerStatus) Validate() error {
	switch s {
	case ManagerStopped, ManagerInitializing, ManagerReady, ManagerRestarting, ManagerStopping:
		return nil
	default:
		return &InvalidStatusError{Kind: "manager status", Value: string(s)}
	}
}
