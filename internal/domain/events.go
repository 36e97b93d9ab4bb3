package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tracker names owned by the manager
const (
	TrackerServerStatus      = "serverStatus"
	TrackerFullServerStatus  = "fullServerStatus"
	TrackerMaintenanceStatus = "maintenanceStatus"
	TrackerManagerStatus     = "managerStatus"
)

// Event types for WebSocket and NATS subscribers
const (
	EventStatusChange = "status_change"
	EventAction       = "action"
	EventNotice       = "notice"
)

// Action names
const (
	ActionStart           = "start"
	ActionStop            = "stop"
	ActionRestart         = "restart"
	ActionMaintenance     = "maintenance"
	ActionBackupCreate    = "backup_create"
	ActionBackupDelete    = "backup_delete"
	ActionBackupPrune     = "backup_prune"
	ActionRelogin         = "relogin"
	ActionConfirmQueue    = "confirm_queue"
	ActionAutomaticBackup = "automatic_backup"
)

// Event represents a real-time event for subscribers
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"event"`
	Tracker   string    `json:"tracker,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewEvent stamps a new event with an ID and the current time
func NewEvent(eventType, tracker string, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Tracker:   tracker,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// StatusChange is the payload of a status_change event
type StatusChange struct {
	Current     any  `json:"current"`
	Previous    any  `json:"previous,omitempty"`
	HasPrevious bool `json:"has_previous"`
	Forced      bool `json:"forced"`
}

// ActionResult is the payload of an action event
type ActionResult struct {
	Action string `json:"action"`
	By     string `json:"by,omitempty"`
	Target string `json:"target,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Notice is a human-facing message raised by a one-shot watcher, e.g. "Server is online!"
type Notice struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
	Level   string `json:"level"` // "info" or "warning"
}
