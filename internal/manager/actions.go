package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ernie/konsole/internal/domain"
	"github.com/ernie/konsole/internal/tracker"
)

// ErrForbidden is returned when a non-admin issues an admin-only command
var ErrForbidden = errors.New("admin privileges required")

// Caller identifies who issued a command
type Caller struct {
	Name  string
	Admin bool
}

// System is the caller used for actions the manager takes on its own
var System = Caller{Name: "system", Admin: true}

type outcome struct {
	level   string
	message string
}

const queueEscapeFailed = "Failed to get out of the waiting queue, the server is offline again."

var (
	startOutcomes = map[domain.ServerStatus]outcome{
		domain.StatusOnline:  {"info", "The server is online!"},
		domain.StatusCrashed: {"warning", "The server has crashed! An admin has to start it again."},
	}
	stopOutcomes = map[domain.ServerStatus]outcome{
		domain.StatusOffline: {"info", "The server is offline."},
		domain.StatusCrashed: {"warning", "The server has crashed while stopping!"},
	}
)

func outcomesFor(action string) map[domain.ServerStatus]outcome {
	switch action {
	case domain.ActionStart, domain.ActionRestart:
		return startOutcomes
	case domain.ActionStop:
		return stopOutcomes
	}
	return nil
}

// authorize applies the command rules shared by every action: the manager
// must be ready, admin-only commands need an admin and maintenance mode
// locks everyone else out.
func (m *Manager) authorize(by Caller, adminOnly bool) error {
	if !m.Ready() {
		return ErrNotReady
	}
	if by.Admin {
		return nil
	}
	if adminOnly {
		return ErrForbidden
	}
	if m.Maintenance() {
		return ErrMaintenance
	}
	return nil
}

// StartServer starts the server if it is offline. Only admins may start a
// crashed server.
func (m *Manager) StartServer(ctx context.Context, by Caller) error {
	err := m.startServer(ctx, by)
	m.recordAction(domain.ActionResult{Action: domain.ActionStart, By: by.Name}, err)
	return err
}

func (m *Manager) startServer(ctx context.Context, by Caller) error {
	if err := m.authorize(by, false); err != nil {
		return err
	}

	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	status := m.ServerStatus()
	if status == domain.StatusCrashed && !by.Admin {
		return &StateError{Action: domain.ActionStart, Status: status, Reason: "it has crashed and only an admin can start it"}
	}
	if status != domain.StatusOffline && status != domain.StatusCrashed {
		return &StateError{Action: domain.ActionStart, Status: status}
	}

	w := m.watchOutcome(domain.ActionStart, true)
	if err := m.driver.Start(ctx); err != nil {
		w.finish()
		return fmt.Errorf("failed to start server: %w", err)
	}
	m.logger.Info("server starting", "by", by.Name)
	return nil
}

// StopServer stops the server if it is online
func (m *Manager) StopServer(ctx context.Context, by Caller) error {
	err := m.stopServer(ctx, by)
	m.recordAction(domain.ActionResult{Action: domain.ActionStop, By: by.Name}, err)
	return err
}

func (m *Manager) stopServer(ctx context.Context, by Caller) error {
	if err := m.authorize(by, true); err != nil {
		return err
	}

	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	if status := m.ServerStatus(); status != domain.StatusOnline {
		return &StateError{Action: domain.ActionStop, Status: status}
	}
	w := m.watchOutcome(domain.ActionStop, false)
	if err := m.driver.Stop(ctx); err != nil {
		w.finish()
		return fmt.Errorf("failed to stop server: %w", err)
	}
	m.logger.Info("server stopping", "by", by.Name)
	return nil
}

// RestartServer restarts the server if it is online
func (m *Manager) RestartServer(ctx context.Context, by Caller) error {
	err := m.restartServer(ctx, by)
	m.recordAction(domain.ActionResult{Action: domain.ActionRestart, By: by.Name}, err)
	return err
}

func (m *Manager) restartServer(ctx context.Context, by Caller) error {
	if err := m.authorize(by, true); err != nil {
		return err
	}

	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	if status := m.ServerStatus(); status != domain.StatusOnline {
		return &StateError{Action: domain.ActionRestart, Status: status}
	}
	w := m.watchOutcome(domain.ActionRestart, false)
	if err := m.driver.Restart(ctx); err != nil {
		w.finish()
		return fmt.Errorf("failed to restart server: %w", err)
	}
	m.logger.Info("server restarting", "by", by.Name)
	return nil
}

// SetMaintenance switches maintenance mode. Switching it off re-announces
// the current server status.
func (m *Manager) SetMaintenance(by Caller, enabled bool) error {
	err := m.setMaintenance(by, enabled)
	m.recordAction(domain.ActionResult{Action: domain.ActionMaintenance, By: by.Name, Target: onOff(enabled)}, err)
	return err
}

func (m *Manager) setMaintenance(by Caller, enabled bool) error {
	if !by.Admin {
		return ErrForbidden
	}
	if err := tracker.SetStatus(m.registry, domain.TrackerMaintenanceStatus, enabled, false); err != nil {
		return fmt.Errorf("failed to set maintenance: %w", err)
	}
	m.logger.Info("maintenance mode", "enabled", enabled, "by", by.Name)
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// WaitForStatus blocks until the server status becomes one of want. Only
// emissions after the call count.
func (m *Manager) WaitForStatus(ctx context.Context, timeout time.Duration, want ...domain.ServerStatus) (domain.ServerStatus, error) {
	s, err := tracker.WaitFor(ctx, m.registry, domain.TrackerServerStatus, func(s domain.ServerStatus) bool {
		return slices.Contains(want, s)
	}, timeout)
	m.metrics.IncWait(domain.TrackerServerStatus, err)
	return s, err
}

// WaitForOutcome waits for the status that settles action: online or
// crashed after a start or restart, offline or crashed after a stop.
func (m *Manager) WaitForOutcome(ctx context.Context, action string, timeout time.Duration) (domain.ServerStatus, error) {
	outcomes := outcomesFor(action)
	if outcomes == nil {
		return "", fmt.Errorf("action %q has no outcome to wait for", action)
	}
	want := make([]domain.ServerStatus, 0, len(outcomes))
	for s := range outcomes {
		want = append(want, s)
	}
	return m.WaitForStatus(ctx, timeout, want...)
}

// outcomeWatch groups the one-shot watchers of a single action so the first
// one to fire retires the rest
type outcomeWatch struct {
	mu      sync.Mutex
	done    bool
	cancels []func()
}

func (w *outcomeWatch) add(cancel func()) {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		cancel()
		return
	}
	w.cancels = append(w.cancels, cancel)
	w.mu.Unlock()
}

// finish retires every watcher and reports whether this call was the first
func (w *outcomeWatch) finish() bool {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return false
	}
	w.done = true
	cancels := w.cancels
	w.cancels = nil
	w.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return true
}

// watchOutcome announces how action ends. With queue set, dropping from the
// waiting queue straight back to offline is reported as a failed escape.
// Watchers give up after the configured action timeout.
func (m *Manager) watchOutcome(action string, queue bool) *outcomeWatch {
	outcomes := outcomesFor(action)
	w := &outcomeWatch{}

	m.watchOnce(w, action, func(c tracker.Change[domain.ServerStatus]) bool {
		_, ok := outcomes[c.Current]
		return ok
	}, func(c tracker.Change[domain.ServerStatus]) {
		if w.finish() {
			o := outcomes[c.Current]
			m.notice(action, o.level, o.message)
		}
	})

	if queue {
		m.watchOnce(w, action, func(c tracker.Change[domain.ServerStatus]) bool {
			return c.Current == domain.StatusOffline && c.HasPrevious && c.Previous == domain.StatusInQueue
		}, func(tracker.Change[domain.ServerStatus]) {
			if w.finish() {
				m.notice(action, "warning", queueEscapeFailed)
			}
		})
	}

	if m.console.ActionTimeout > 0 {
		t := time.AfterFunc(m.console.ActionTimeout, func() {
			if w.finish() {
				m.logger.Warn("gave up waiting for action outcome", "action", action, "after", m.console.ActionTimeout)
			}
		})
		w.add(func() { t.Stop() })
	}
	return w
}

// watchOnce adds a one-shot server status watcher to w
func (m *Manager) watchOnce(w *outcomeWatch, action string, match func(tracker.Change[domain.ServerStatus]) bool, fire func(tracker.Change[domain.ServerStatus])) {
	cancel, err := tracker.Once(m.registry, domain.TrackerServerStatus, match, fire)
	if err != nil {
		m.logger.Warn("not watching action outcome", "action", action, "err", err)
		return
	}
	w.add(cancel)
}

// recordAction audits the result of an action, counts it and relays it
func (m *Manager) recordAction(res domain.ActionResult, err error) {
	res.OK = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	m.metrics.IncAction(res.Action, err)
	m.emitEvent(domain.NewEvent(domain.EventAction, "", res))

	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := m.store.RecordAction(ctx, res, m.now()); serr != nil {
		m.logger.Error("failed to record action", "action", res.Action, "err", serr)
	}
}
