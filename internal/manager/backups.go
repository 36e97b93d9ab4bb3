package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/ernie/konsole/internal/domain"
)

// ListBackups returns the backups known to the console, newest first
func (m *Manager) ListBackups(ctx context.Context, by Caller) (domain.BackupList, error) {
	if err := m.authorize(by, false); err != nil {
		return domain.BackupList{}, err
	}
	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	list, err := m.driver.ListBackups(ctx)
	if err != nil {
		return domain.BackupList{}, fmt.Errorf("failed to list backups: %w", err)
	}
	m.metrics.SetBackups(len(list.Files))
	return list, nil
}

// CreateBackup creates a backup. An empty name lets the console pick one.
func (m *Manager) CreateBackup(ctx context.Context, by Caller, name string) error {
	err := m.createBackup(ctx, by, name)
	m.recordAction(domain.ActionResult{Action: domain.ActionBackupCreate, By: by.Name, Target: name}, err)
	return err
}

func (m *Manager) createBackup(ctx context.Context, by Caller, name string) error {
	if err := m.authorize(by, true); err != nil {
		return err
	}
	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	if err := m.driver.CreateBackup(ctx, name); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	m.logger.Info("backup created", "name", name, "by", by.Name)
	return nil
}

// DeleteBackup deletes the backup called name
func (m *Manager) DeleteBackup(ctx context.Context, by Caller, name string) error {
	err := m.deleteBackup(ctx, by, name)
	m.recordAction(domain.ActionResult{Action: domain.ActionBackupDelete, By: by.Name, Target: name}, err)
	return err
}

func (m *Manager) deleteBackup(ctx context.Context, by Caller, name string) error {
	if err := m.authorize(by, true); err != nil {
		return err
	}
	if name == "" {
		return errors.New("backup name is required")
	}
	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	if err := m.driver.DeleteBackup(ctx, name); err != nil {
		return fmt.Errorf("failed to delete backup %q: %w", name, err)
	}
	m.logger.Info("backup deleted", "name", name, "by", by.Name)
	return nil
}

// PruneBackups deletes the oldest backups until no more than the configured
// limit remain, and returns the names it deleted
func (m *Manager) PruneBackups(ctx context.Context, by Caller) ([]string, error) {
	deleted, err := m.pruneBackups(ctx, by)
	m.recordAction(domain.ActionResult{Action: domain.ActionBackupPrune, By: by.Name, Target: fmt.Sprintf("%d deleted", len(deleted))}, err)
	return deleted, err
}

func (m *Manager) pruneBackups(ctx context.Context, by Caller) ([]string, error) {
	if err := m.authorize(by, true); err != nil {
		return nil, err
	}
	m.actionMu.Lock()
	defer m.actionMu.Unlock()
	return m.pruneLocked(ctx)
}

// pruneLocked re-lists after every deletion so backups created or removed
// concurrently on the console are accounted for. Callers hold actionMu.
func (m *Manager) pruneLocked(ctx context.Context) ([]string, error) {
	var deleted []string
	for {
		list, err := m.driver.ListBackups(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list backups: %w", err)
		}
		m.metrics.SetBackups(len(list.Files))
		if len(list.Files) <= m.backups.Limit {
			return deleted, nil
		}
		oldest, _ := list.Oldest()
		if err := m.driver.DeleteBackup(ctx, oldest.Name); err != nil {
			return deleted, fmt.Errorf("failed to delete backup %q: %w", oldest.Name, err)
		}
		m.logger.Info("pruned backup", "name", oldest.Name, "limit", m.backups.Limit)
		deleted = append(deleted, oldest.Name)
	}
}

// automaticBackupName follows the console's naming for scheduled backups
func (m *Manager) automaticBackupName() string {
	now := m.now()
	return fmt.Sprintf("Automatic backup @ %s - %x", now.Format("01/02/2006"), now.Unix())
}

// automaticBackup runs after the server went offline: back up, then prune
func (m *Manager) automaticBackup(ctx context.Context) {
	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	name := m.automaticBackupName()
	err := m.driver.CreateBackup(ctx, name)
	if err == nil {
		m.logger.Info("automatic backup created", "name", name)
		_, err = m.pruneLocked(ctx)
	}
	if err != nil {
		m.logger.Error("automatic backup failed", "name", name, "err", err)
	}
	m.recordAction(domain.ActionResult{Action: domain.ActionAutomaticBackup, By: System.Name, Target: name}, err)
}
