// Package console defines the contract with the hosting web console.
//
// Driving the real console (page navigation, selectors, the browser) is an
// external collaborator. konsole talks to it through Driver and ships a
// Simulator that reproduces the console's observable state machine.
package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/ernie/konsole/internal/domain"
)

var (
	ErrLogin            = errors.New("login failed")
	ErrServerNotFound   = errors.New("server not found on console")
	ErrSessionExpired   = errors.New("console session expired")
	ErrActionInProgress = errors.New("console action in progress")
	ErrBackupNotFound   = errors.New("backup not found")
	ErrUnavailable      = errors.New("action unavailable in current state")
)

// Error is returned by drivers. Op names the driver call and Err is one of the
// package sentinels so callers can branch with errors.Is.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("console %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("console %s: %v: %s", e.Op, e.Err, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Driver is the console as seen by the manager. Implementations must be safe
// for use from multiple goroutines.
type Driver interface {
	// Login opens a session. It is a no-op when already logged in.
	Login(ctx context.Context, username, password string) error
	// SelectServer switches the session to the server reachable at address.
	SelectServer(ctx context.Context, address string) error
	// Status reads the status page. It fails with ErrActionInProgress while
	// the console is busy with a previous action.
	Status(ctx context.Context) (domain.FullStatus, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	// ConfirmQueue presses the queue confirmation button if it is shown.
	ConfirmQueue(ctx context.Context) error
	ListBackups(ctx context.Context) (domain.BackupList, error)
	CreateBackup(ctx context.Context, name string) error
	DeleteBackup(ctx context.Context, name string) error
	Close() error
}
