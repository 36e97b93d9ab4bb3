package console

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ernie/konsole/internal/domain"
)

// SimulatorConfig shapes the simulated console
type SimulatorConfig struct {
	Username   string
	Password   string
	Servers    []string // addresses the account can access; the first is selected after login
	MaxPlayers int
	// QueueLength > 0 makes Start go through the waiting queue with this
	// many positions ahead of the server.
	QueueLength int
	// ConfirmPolls is how many polls a pending queue confirmation waits
	// before the console drops the server back to offline.
	ConfirmPolls int
	QuotaUsage   string
	Now          func() time.Time
}

// Simulator is an in-memory console. Every Status call advances pending
// transitions by one step, so a poll loop drives it like the real console.
type Simulator struct {
	cfg SimulatorConfig

	mu             sync.Mutex
	loggedIn       bool
	selected       string
	status         domain.ServerStatus
	players        int
	script         []domain.ServerStatus
	queuePos       int
	awaitConfirm   bool
	confirmPolls   int
	crashNextStart bool
	busy           bool
	backups        []domain.Backup
	closed         bool
	calls          map[string]int
}

// NewSimulator returns a logged-out simulator with an offline server
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{"example.aternos.me"}
	}
	if cfg.MaxPlayers == 0 {
		cfg.MaxPlayers = 20
	}
	if cfg.ConfirmPolls == 0 {
		cfg.ConfirmPolls = 3
	}
	if cfg.QuotaUsage == "" {
		cfg.QuotaUsage = "0 B / 4 GB"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Simulator{
		cfg:    cfg,
		status: domain.StatusOffline,
		calls:  make(map[string]int),
	}
}

func (s *Simulator) check(op string) error {
	s.calls[op]++
	if s.closed {
		return &Error{Op: op, Message: "driver closed", Err: ErrSessionExpired}
	}
	if !s.loggedIn {
		return &Error{Op: op, Err: ErrSessionExpired}
	}
	return nil
}

// Login implements Driver
func (s *Simulator) Login(_ context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["login"]++
	if s.loggedIn {
		return nil
	}
	if username != s.cfg.Username || password != s.cfg.Password {
		return &Error{Op: "login", Message: "incorrect username or password", Err: ErrLogin}
	}
	s.loggedIn = true
	s.closed = false
	s.selected = s.cfg.Servers[0]
	return nil
}

// SelectServer implements Driver
func (s *Simulator) SelectServer(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("select"); err != nil {
		return err
	}
	if !slices.Contains(s.cfg.Servers, address) {
		return &Error{Op: "select", Message: address, Err: ErrServerNotFound}
	}
	s.selected = address
	return nil
}

// Status implements Driver
func (s *Simulator) Status(_ context.Context) (domain.FullStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("status"); err != nil {
		return domain.FullStatus{}, err
	}
	if s.busy {
		return domain.FullStatus{}, &Error{Op: "status", Err: ErrActionInProgress}
	}
	s.advance()
	return s.snapshot(), nil
}

func (s *Simulator) advance() {
	switch {
	case s.status == domain.StatusInQueue && s.queuePos > 0:
		s.queuePos--
		if s.queuePos == 0 {
			s.awaitConfirm = true
			s.confirmPolls = 0
		}
		return
	case s.awaitConfirm:
		s.confirmPolls++
		if s.confirmPolls > s.cfg.ConfirmPolls {
			s.awaitConfirm = false
			s.script = nil
			s.status = domain.StatusOffline
		}
		return
	}
	if len(s.script) == 0 {
		return
	}
	s.status = s.script[0]
	s.script = s.script[1:]
	if s.status == domain.StatusInQueue {
		s.queuePos = s.cfg.QueueLength
	}
	if s.status != domain.StatusOnline {
		s.players = 0
	}
}

func (s *Simulator) snapshot() domain.FullStatus {
	fs := domain.FullStatus{
		Status:        s.status,
		PlayersOnline: fmt.Sprintf("%d/%d", s.players, s.cfg.MaxPlayers),
		Address:       s.selected,
	}
	if s.status == domain.StatusInQueue {
		fs.QueuePosition = fmt.Sprintf("%d/%d", s.queuePos, s.cfg.QueueLength)
		fs.QueueETA = fmt.Sprintf("ca. %d min", s.queuePos)
	}
	return fs
}

// Start implements Driver. Like the console's start button it only works
// from offline or crashed.
func (s *Simulator) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("start"); err != nil {
		return err
	}
	if s.status != domain.StatusOffline && s.status != domain.StatusCrashed {
		return &Error{Op: "start", Message: string(s.status), Err: ErrUnavailable}
	}
	var script []domain.ServerStatus
	if s.cfg.QueueLength > 0 {
		script = append(script, domain.StatusInQueue)
	}
	script = append(script, domain.StatusPreparing, domain.StatusLoading, domain.StatusStarting)
	if s.crashNextStart {
		s.crashNextStart = false
		script = append(script, domain.StatusCrashed)
	} else {
		script = append(script, domain.StatusOnline)
	}
	s.script = script
	return nil
}

// Stop implements Driver
func (s *Simulator) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("stop"); err != nil {
		return err
	}
	if s.status != domain.StatusOnline {
		return &Error{Op: "stop", Message: string(s.status), Err: ErrUnavailable}
	}
	s.script = []domain.ServerStatus{domain.StatusStopping, domain.StatusSaving, domain.StatusOffline}
	return nil
}

// Restart implements Driver
func (s *Simulator) Restart(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("restart"); err != nil {
		return err
	}
	if s.status != domain.StatusOnline {
		return &Error{Op: "restart", Message: string(s.status), Err: ErrUnavailable}
	}
	s.script = []domain.ServerStatus{domain.StatusRestarting, domain.StatusStarting, domain.StatusOnline}
	return nil
}

// ConfirmQueue implements Driver. It is a no-op when no confirmation is pending.
func (s *Simulator) ConfirmQueue(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("confirm"); err != nil {
		return err
	}
	s.awaitConfirm = false
	return nil
}

// ListBackups implements Driver
func (s *Simulator) ListBackups(_ context.Context) (domain.BackupList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("backups"); err != nil {
		return domain.BackupList{}, err
	}
	return domain.BackupList{
		QuotaUsage: s.cfg.QuotaUsage,
		Files:      slices.Clone(s.backups),
	}, nil
}

// CreateBackup implements Driver
func (s *Simulator) CreateBackup(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("backup_create"); err != nil {
		return err
	}
	now := s.cfg.Now()
	if name == "" {
		name = "Backup " + now.Format("01/02/2006 15:04:05")
	}
	s.backups = slices.Insert(s.backups, 0, domain.Backup{Name: name, CreatedAt: now})
	return nil
}

// DeleteBackup implements Driver
func (s *Simulator) DeleteBackup(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("backup_delete"); err != nil {
		return err
	}
	i := slices.IndexFunc(s.backups, func(b domain.Backup) bool { return b.Name == name })
	if i < 0 {
		return &Error{Op: "backup_delete", Message: name, Err: ErrBackupNotFound}
	}
	s.backups = slices.Delete(s.backups, i, i+1)
	return nil
}

// Close implements Driver
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.loggedIn = false
	return nil
}

// ExpireSession logs the simulator out, as the console does after idling
func (s *Simulator) ExpireSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
}

// CrashNextStart makes the next start end in crashed instead of online
func (s *Simulator) CrashNextStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashNextStart = true
}

// SetBusy toggles the action-in-progress state seen by Status
func (s *Simulator) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
}

// SetPlayers sets the online player count
func (s *Simulator) SetPlayers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players = n
}

// Calls returns how many times op was invoked
func (s *Simulator) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}
