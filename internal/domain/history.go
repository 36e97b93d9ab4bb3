package domain

import (
	"encoding/json"
	"time"
)

// Transition is one recorded emission of a tracker
type Transition struct {
	ID          int64           `json:"id"`
	Tracker     string          `json:"tracker"`
	Current     json.RawMessage `json:"current"`
	Previous    json.RawMessage `json:"previous,omitempty"`
	HasPrevious bool            `json:"has_previous"`
	Forced      bool            `json:"forced"`
	At          time.Time       `json:"at"`
}

// ActionRecord is one audited console action
type ActionRecord struct {
	ID int64 `json:"id"`
	ActionResult
	At time.Time `json:"at"`
}
