package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ernie/konsole/internal/domain"
	"github.com/ernie/konsole/internal/tracker"
)

// installHooks wires the observers every manager carries. Hooks that talk to
// the console hand the work to goAsync so tracker dispatch stays quick.
func (m *Manager) installHooks() error {
	for _, name := range m.registry.Names() {
		if err := m.registry.AddAnyHook(name, m.relayHook(name)); err != nil {
			return err
		}
	}

	errs := []error{
		tracker.AddHook(m.registry, domain.TrackerServerStatus, tracker.NewHook(func(c tracker.Change[domain.ServerStatus]) error {
			m.metrics.SetServerStatus(c.Current)
			if c.HasPrevious {
				m.poller.Info("server status changed", "from", c.Previous, "to", c.Current, "forced", c.Forced)
			}
			return nil
		})),
		tracker.AddHook(m.registry, domain.TrackerServerStatus, tracker.NewHook(m.handleBackupGeneration)),
		tracker.AddHook(m.registry, domain.TrackerFullServerStatus, tracker.NewHook(func(c tracker.Change[domain.FullStatus]) error {
			if c.Current.Status == domain.StatusInQueue {
				m.goAsync(m.confirmQueue)
			}
			return nil
		})),
	}

	if m.flag != nil {
		errs = append(errs, tracker.AddHook(m.registry, domain.TrackerMaintenanceStatus, m.flag.Hook()))
	}
	errs = append(errs, tracker.AddHook(m.registry, domain.TrackerMaintenanceStatus, tracker.NewHook(func(c tracker.Change[bool]) error {
		m.metrics.SetMaintenance(c.Current)
		// leaving maintenance re-announces the real server state
		if c.HasPrevious && c.Previous && !c.Current && m.Ready() {
			m.goAsync(func(ctx context.Context) { m.forceCheck(ctx) })
		}
		return nil
	})))

	errs = append(errs, tracker.AddHook(m.registry, domain.TrackerManagerStatus, tracker.NewHook(func(c tracker.Change[domain.ManagerStatus]) error {
		m.metrics.SetManagerStatus(c.Current)
		m.logger.Debug("manager status", "status", c.Current)
		if c.Current == domain.ManagerReady {
			m.goAsync(func(ctx context.Context) { m.forceCheck(ctx) })
		}
		return nil
	})))
	return errors.Join(errs...)
}

// relayHook turns every emission of name into a status_change event and a
// history row
func (m *Manager) relayHook(name string) *tracker.Hook[any] {
	return tracker.NewHook(func(c tracker.Change[any]) error {
		m.metrics.IncEmission(name, c.Forced)
		m.emitEvent(domain.NewEvent(domain.EventStatusChange, name, domain.StatusChange{
			Current:     c.Current,
			Previous:    c.Previous,
			HasPrevious: c.HasPrevious,
			Forced:      c.Forced,
		}))

		if m.store == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := m.store.RecordTransition(ctx, name, c.Current, c.Previous, c.HasPrevious, c.Forced, m.now()); err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}
		return nil
	})
}

func (m *Manager) forceCheck(ctx context.Context) {
	if err := m.CheckStatus(ctx, true); err != nil {
		m.poller.Warn("forced status check failed", "err", err)
	}
}

// handleBackupGeneration takes a backup whenever the server reaches offline
// from a known state. Forced re-emissions are re-syncs, not transitions.
func (m *Manager) handleBackupGeneration(c tracker.Change[domain.ServerStatus]) error {
	if m.backups.DisableAutomatic || c.Forced || !c.HasPrevious || c.Previous == "" {
		return nil
	}
	if c.Current != domain.StatusOffline || c.Previous == domain.StatusOffline {
		return nil
	}
	m.goAsync(m.automaticBackup)
	return nil
}

func (m *Manager) confirmQueue(ctx context.Context) {
	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	// the queue may have moved on while waiting for the lock
	if m.FullStatus().Status != domain.StatusInQueue {
		return
	}
	err := m.driver.ConfirmQueue(ctx)
	m.metrics.IncAction(domain.ActionConfirmQueue, err)
	if err != nil {
		m.poller.Warn("failed to confirm queue slot", "err", err)
		return
	}
	m.poller.Debug("queue slot confirmed")
}
