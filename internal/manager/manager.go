// Package manager drives the hosting console: it owns the tracker registry,
// polls the driver on a ticker, performs server and backup actions, and
// turns tracker emissions into events for the API and relay.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ernie/konsole/internal/config"
	"github.com/ernie/konsole/internal/console"
	"github.com/ernie/konsole/internal/domain"
	"github.com/ernie/konsole/internal/maintenance"
	"github.com/ernie/konsole/internal/metrics"
	"github.com/ernie/konsole/internal/storage"
	"github.com/ernie/konsole/internal/tracker"
)

// Options carries the optional collaborators of a Manager
type Options struct {
	Store    *storage.Store
	Metrics  *metrics.Recorder
	FlagFile *maintenance.FlagFile
	Logger   *log.Logger
	Now      func() time.Time
}

// Manager is the console manager. Construct one with New and pass it by
// reference; there is no package-level instance.
type Manager struct {
	console config.ConsoleConfig
	backups config.BackupsConfig
	driver  console.Driver
	store   *storage.Store
	metrics *metrics.Recorder
	flag    *maintenance.FlagFile
	// flagWatch feeds external edits of the flag file back into the tracker
	flagWatch bool
	logger    *log.Logger
	poller    *log.Logger
	now       func() time.Time

	// registry is torn down by Stop; every read and write goes through it by name
	registry *tracker.Registry
	events   *broadcaster

	// actionMu serialises driver actions; the console only runs one at a time
	actionMu sync.Mutex

	mu        sync.Mutex
	started   bool
	stopping  bool
	lastLogin time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup // track goroutine completion for graceful shutdown
}

// New creates a manager with its four trackers registered and wired.
// The maintenance tracker starts from the flag file when one is given.
func New(cfg *config.Config, driver console.Driver, opts Options) (*Manager, error) {
	if driver == nil {
		return nil, errors.New("console driver is required")
	}
	if cfg.Console.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.Console.PollInterval)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		console:   cfg.Console,
		backups:   cfg.Backups,
		driver:    driver,
		store:     opts.Store,
		metrics:   opts.Metrics,
		flag:      opts.FlagFile,
		flagWatch: cfg.Maintenance.Watch,
		logger:    opts.Logger.WithPrefix("manager"),
		poller:    opts.Logger.WithPrefix("poller"),
		now:       opts.Now,
		registry:  tracker.NewRegistry(opts.Logger.WithPrefix("tracker")),
		events:    newBroadcaster(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	maintenanceOn := false
	if m.flag != nil {
		on, err := m.flag.Read()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to read maintenance flag: %w", err)
		}
		maintenanceOn = on
	}

	if err := m.addTrackers(maintenanceOn); err != nil {
		cancel()
		return nil, err
	}
	if err := m.installHooks(); err != nil {
		cancel()
		return nil, err
	}
	m.metrics.SetMaintenance(maintenanceOn)
	m.metrics.SetManagerStatus(domain.ManagerStopped)

	return m, nil
}

func (m *Manager) addTrackers(maintenanceOn bool) error {
	if _, err := tracker.AddTracker(m.registry, domain.TrackerServerStatus,
		tracker.WithPolicy(tracker.AllowedEnum[domain.ServerStatus]()),
	); err != nil {
		return err
	}
	if _, err := tracker.AddTracker[domain.FullStatus](m.registry, domain.TrackerFullServerStatus); err != nil {
		return err
	}
	if _, err := tracker.AddTracker(m.registry, domain.TrackerMaintenanceStatus,
		tracker.WithInitial(maintenanceOn),
		tracker.WithPolicy(tracker.AllowedSet(true, false)),
	); err != nil {
		return err
	}
	_, err := tracker.AddTracker(m.registry, domain.TrackerManagerStatus,
		tracker.WithInitial(domain.ManagerStopped),
		tracker.WithPolicy(tracker.AllowedEnum[domain.ManagerStatus]()),
		tracker.WithEquality(tracker.Shallow[domain.ManagerStatus]()),
	)
	return err
}

// Registry exposes the trackers by name. It is empty once Stop returns.
func (m *Manager) Registry() *tracker.Registry {
	return m.registry
}

// trackerValue reads the named tracker, returning the zero value once the
// trackers have been removed.
func trackerValue[T any](m *Manager, name string) T {
	v, err := tracker.GetStatus[T](m.registry, name)
	if err != nil && !errors.Is(err, tracker.ErrUnknownName) {
		m.logger.Error("failed to read tracker", "tracker", name, "err", err)
	}
	return v
}

// ServerStatus returns the last polled server status, empty before the first poll
func (m *Manager) ServerStatus() domain.ServerStatus {
	return trackerValue[domain.ServerStatus](m, domain.TrackerServerStatus)
}

// FullStatus returns the last polled full status
func (m *Manager) FullStatus() domain.FullStatus {
	return trackerValue[domain.FullStatus](m, domain.TrackerFullServerStatus)
}

// Maintenance reports whether maintenance mode is enabled
func (m *Manager) Maintenance() bool {
	return trackerValue[bool](m, domain.TrackerMaintenanceStatus)
}

// Status returns the manager lifecycle status
func (m *Manager) Status() domain.ManagerStatus {
	s := trackerValue[domain.ManagerStatus](m, domain.TrackerManagerStatus)
	if s == "" {
		return domain.ManagerStopped
	}
	return s
}

// Ready reports whether the manager accepts commands
func (m *Manager) Ready() bool {
	return isReady(m.Status())
}

// WhenReady runs action on a tracked goroutine once the manager is ready,
// straight away if it already is. The returned func cancels a pending action.
func (m *Manager) WhenReady(action func(ctx context.Context)) (cancel func()) {
	cancel, err := tracker.RunWhenReady(m.registry, domain.TrackerManagerStatus, isReady, func() { m.goAsync(action) })
	if err != nil {
		m.logger.Warn("not scheduling deferred action", "err", err)
		return func() {}
	}
	return cancel
}

func isReady(s domain.ManagerStatus) bool {
	return s == domain.ManagerReady
}

// Start logs in, selects the configured server and begins polling
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("console manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.setManagerStatus(domain.ManagerInitializing)
	m.logger.Info("initializing", "address", m.console.Address)

	if err := m.login(ctx); err != nil {
		m.abortStart()
		return err
	}

	// re-sync the flag file with the tracker before anything reads it
	if err := m.registry.ForceStatusUpdate(domain.TrackerMaintenanceStatus); err != nil {
		m.abortStart()
		return fmt.Errorf("failed to sync maintenance flag: %w", err)
	}

	if m.flag != nil && m.flagWatch {
		if err := m.flag.Watch(m.ctx, func(enabled bool) {
			if err := tracker.SetStatus(m.registry, domain.TrackerMaintenanceStatus, enabled, false); err != nil {
				m.logger.Error("failed to apply maintenance flag", "err", err)
			}
		}); err != nil {
			m.logger.Warn("not watching maintenance flag", "err", err)
		}
	}

	// commands deferred until ready must see a real server status
	if err := m.CheckStatus(ctx, false); err != nil {
		m.poller.Warn("initial status check failed", "err", err)
	}

	m.wg.Add(1)
	go m.pollLoop(ctx)

	// becoming ready triggers a forced status check
	m.setManagerStatus(domain.ManagerReady)
	m.logger.Info("ready", "poll_interval", m.console.PollInterval)
	return nil
}

// abortStart undoes a failed Start so it can be retried
func (m *Manager) abortStart() {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	m.setManagerStatus(domain.ManagerStopped)
}

// Stop stops polling, waits for in-flight work, closes the driver and
// removes every tracker along with its observers
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return
	}
	m.stopping = true
	m.mu.Unlock()

	m.logger.Info("stopping...")
	m.setManagerStatus(domain.ManagerStopping)
	close(m.done)
	m.cancel()
	m.wg.Wait()

	if err := m.driver.Close(); err != nil {
		m.logger.Warn("failed to close console driver", "err", err)
	}
	m.setManagerStatus(domain.ManagerStopped)
	m.events.close()
	m.registry.RemoveAllTrackers()
	m.logger.Info("shutdown complete")
}

// goAsync runs fn on a tracked goroutine unless the manager is stopping.
// Observers use it for slow work so dispatch never waits on the console.
func (m *Manager) goAsync(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

func (m *Manager) setManagerStatus(s domain.ManagerStatus) {
	if err := tracker.SetStatus(m.registry, domain.TrackerManagerStatus, s, false); err != nil {
		m.logger.Error("failed to set manager status", "status", s, "err", err)
	}
}

func (m *Manager) login(ctx context.Context) error {
	if err := m.driver.Login(ctx, m.console.Username, m.console.Password); err != nil {
		return fmt.Errorf("console login failed: %w", err)
	}
	if err := m.driver.SelectServer(ctx, m.console.Address); err != nil {
		return fmt.Errorf("failed to select server %s: %w", m.console.Address, err)
	}
	m.mu.Lock()
	m.lastLogin = m.now()
	m.mu.Unlock()
	m.logger.Info("logged in", "user", m.console.Username, "address", m.console.Address)
	return nil
}

// Relogin logs in again after the console session expired. Attempts closer
// together than the configured minimum interval fail with ErrReloginTooSoon.
func (m *Manager) Relogin(ctx context.Context) error {
	m.mu.Lock()
	since := m.now().Sub(m.lastLogin)
	m.mu.Unlock()
	if since < m.console.MinReloginInterval {
		return fmt.Errorf("%w: last login %s ago", ErrReloginTooSoon, since.Round(time.Second))
	}
	if s := m.Status(); s != domain.ManagerReady && s != domain.ManagerRestarting {
		return ErrNotReady
	}

	m.logger.Warn("console session expired, logging in again")
	m.setManagerStatus(domain.ManagerRestarting)
	if err := m.login(ctx); err != nil {
		// stay restarting so deferred commands keep waiting for the next attempt
		m.mu.Lock()
		m.lastLogin = m.now()
		m.mu.Unlock()
		m.recordAction(domain.ActionResult{Action: domain.ActionRelogin, By: System.Name}, err)
		return err
	}
	m.setManagerStatus(domain.ManagerReady)
	m.recordAction(domain.ActionResult{Action: domain.ActionRelogin, By: System.Name}, nil)
	return nil
}

// pollLoop polls the console status on the configured interval
func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.console.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			if m.Status() == domain.ManagerRestarting {
				// a failed relogin leaves the manager restarting; retry from here
				if err := m.Relogin(m.ctx); err != nil && !errors.Is(err, ErrReloginTooSoon) {
					m.poller.Error("relogin failed", "err", err)
				}
				continue
			}
			if err := m.CheckStatus(m.ctx, false); err != nil {
				m.poller.Debug("poll failed", "err", err)
			}
		}
	}
}

// CheckStatus polls the console once and updates both status trackers.
// With force the trackers re-emit even if nothing changed.
func (m *Manager) CheckStatus(ctx context.Context, force bool) error {
	start := m.now()
	fs, err := m.driver.Status(ctx)
	m.metrics.ObservePoll(m.now().Sub(start), err)
	if err != nil {
		switch {
		case errors.Is(err, console.ErrActionInProgress):
			return nil
		case errors.Is(err, console.ErrSessionExpired):
			if rerr := m.Relogin(ctx); rerr != nil && !errors.Is(rerr, ErrReloginTooSoon) {
				m.poller.Error("relogin failed", "err", rerr)
			}
			return fmt.Errorf("failed to poll status: %w", err)
		default:
			m.poller.Error("failed to poll status", "err", err)
			return fmt.Errorf("failed to poll status: %w", err)
		}
	}

	if err := fs.Status.Validate(); err != nil {
		m.poller.Warn("unknown status", "status", fs.Status)
		return err
	}
	if err := tracker.SetStatus(m.registry, domain.TrackerFullServerStatus, fs, force); err != nil {
		return err
	}
	return tracker.SetStatus(m.registry, domain.TrackerServerStatus, fs.Status, force)
}
