package domain

import (
	"strconv"
	"strings"
	"time"
)

// FullStatus is everything the console status page reports in one poll
type FullStatus struct {
	Status        ServerStatus `json:"status"`
	PlayersOnline string       `json:"players_online"`           // "current/max"
	QueueETA      string       `json:"queue_eta,omitempty"`      // as displayed, e.g. "ca. 3 min"
	QueuePosition string       `json:"queue_position,omitempty"` // as displayed, e.g. "12/40"
	Address       string       `json:"address,omitempty"`
}

// PlayerCount parses the current player count out of PlayersOnline.
// Returns -1 when the field is empty or malformed.
func (f FullStatus) PlayerCount() int {
	current, _, ok := strings.Cut(f.PlayersOnline, "/")
	if !ok {
		current = f.PlayersOnline
	}
	n, err := strconv.Atoi(strings.TrimSpace(current))
	if err != nil {
		return -1
	}
	return n
}

// Backup is a single world backup held by the console
type Backup struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Size      string    `json:"size,omitempty"`
}

// BackupList is the backups page, newest first
type BackupList struct {
	QuotaUsage string   `json:"quota_usage"`
	Files      []Backup `json:"files"`
}

// Oldest returns the oldest backup, if any
func (l BackupList) Oldest() (Backup, bool) {
	if len(l.Files) == 0 {
		return Backup{}, false
	}
	return l.Files[len(l.Files)-1], true
}
