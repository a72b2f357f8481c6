package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"
)

// Status is the state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// maxConsecutiveHealthFailures is how many failed probes in a row kill the child.
const maxConsecutiveHealthFailures = 3

// maxOutputLine bounds one captured line of child output.
const maxOutputLine = 64 * 1024

// ErrAlreadyRunning is returned by Start on a running Manager.
var ErrAlreadyRunning = errors.New("process: already running")

var errStopping = errors.New("process: stop requested")

// RecoverableError lets an exit cause veto restarts.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err permits a restart. Errors that do not
// implement RecoverableError are recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// ExitError is an exit status listed in Config.FatalExitCodes. Restarting
// would fail the same way, so it vetoes restarts.
type ExitError struct {
	Name string
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %v", e.Name, e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// IsRecoverable implements RecoverableError.
func (e *ExitError) IsRecoverable() bool { return false }

// Config describes one child process.
type Config struct {
	Name    string
	Binary  string
	Args    []string
	Env     []string // appended to the parent's environment
	WorkDir string

	RestartOnFailure   bool
	RestartDelay       time.Duration // first backoff step
	MaxRestartDelay    time.Duration // backoff ceiling
	MaxRestartAttempts int           // 0 is unlimited

	// FatalExitCodes are exit statuses that end supervision instead of
	// restarting, such as a child refusing its configuration.
	FatalExitCodes []int

	// StableThreshold is how long a child must run before its restart
	// count resets.
	StableThreshold time.Duration

	GracefulTimeout time.Duration

	// HealthCheck is probed every HealthCheckInterval. Nil means running
	// is healthy.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	OnStart   func(pid int)
	OnStop    func(err error)
	OnRestart func(attempt int)
}

// DefaultConfig returns a restartable Config with the usual timings.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        time.Second,
		MaxRestartDelay:     30 * time.Second,
		MaxRestartAttempts:  10,
		StableThreshold:     time.Minute,
		GracefulTimeout:     10 * time.Second,
		HealthCheckInterval: 5 * time.Second,
		HealthCheckTimeout:  2 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.RestartDelay <= 0 {
		c.RestartDelay = time.Second
	}
	if c.MaxRestartDelay < c.RestartDelay {
		c.MaxRestartDelay = 30 * c.RestartDelay
	}
	if c.StableThreshold <= 0 {
		c.StableThreshold = time.Minute
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = 10 * time.Second
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 5 * time.Second
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = 2 * time.Second
	}
}

// Logger defines the logging interface used by the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one child process.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
}

// NewManager creates a stopped Manager.
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger. Call before Start.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Name returns the configured name.
func (m *Manager) Name() string {
	return m.config.Name
}

// Start launches the child and supervises it until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.spawn(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx)
	return nil
}

func (m *Manager) spawn(ctx context.Context) error {
	m.logger.Info("starting process", "name", m.config.Name, "binary", m.config.Binary, "args", m.config.Args)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binaries come from the demo configuration
	// Own process group so Stop reaches grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Context cancellation shuts down like Stop: SIGTERM, then SIGKILL.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = m.config.GracefulTimeout
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	cmd.Dir = m.config.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	// Start under the lock so Stop either prevents the spawn or sees it.
	m.mu.Lock()
	if m.stopRequested {
		m.mu.Unlock()
		return errStopping
	}
	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	pid := cmd.Process.Pid
	m.logger.Info("process started", "name", m.config.Name, "pid", pid)
	if m.config.OnStart != nil {
		m.config.OnStart(pid)
	}
	return nil
}

// captureOutput logs each line the child writes.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), maxOutputLine)
	for sc.Scan() {
		m.logger.Debug("process output", "name", m.config.Name, "stream", stream, "line", sc.Text())
	}
}

// waitOrUnhealthy returns when the child exits, ctx ends, or the health
// probe fails maxConsecutiveHealthFailures times in a row. In the last case
// the child is killed first.
func (m *Manager) waitOrUnhealthy(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	if m.config.HealthCheck == nil {
		select {
		case err := <-exitCh:
			return err
		case <-ctx.Done():
			return <-exitCh
		}
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err
		case <-ctx.Done():
			return <-exitCh
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.config.HealthCheckTimeout)
			err := m.config.HealthCheck(probeCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("health check recovered", "name", m.config.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("health check failed", "name", m.config.Name, "error", err, "consecutive_failures", failures)
			if failures < maxConsecutiveHealthFailures {
				continue
			}

			m.logger.Error("process unhealthy, killing", "name", m.config.Name, "failures", failures)
			if cmd.Process != nil {
				cmd.Process.Kill() //nolint:errcheck // exit is observed below
			}
			exitErr := <-exitCh
			return fmt.Errorf("killed after %d failed health checks: %w", failures, errors.Join(err, exitErr))
		}
	}
}

func (m *Manager) supervise(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		started := m.startTime
		m.mu.RUnlock()

		err := m.classifyExit(m.waitOrUnhealthy(ctx, cmd))

		m.mu.Lock()
		stopping := m.stopRequested || ctx.Err() != nil
		if stopping {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = err
			if time.Since(started) >= m.config.StableThreshold {
				m.restartCount = 0
			}
		}
		m.mu.Unlock()

		if stopping {
			m.logger.Info("process stopped", "name", m.config.Name)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err)
		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure || !IsRecoverable(err) {
			return
		}
		if !m.waitToRestart(ctx) {
			return
		}
	}
}

// classifyExit wraps an exit status listed in FatalExitCodes in an ExitError.
func (m *Manager) classifyExit(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) && slices.Contains(m.config.FatalExitCodes, ee.ExitCode()) {
		return &ExitError{Name: m.config.Name, Code: ee.ExitCode(), Err: err}
	}
	return err
}

// waitToRestart sleeps the backoff delay and respawns until a spawn
// succeeds. It returns false when supervision should end.
func (m *Manager) waitToRestart(ctx context.Context) bool {
	for {
		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return false
		}

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-m.stopCh:
			timer.Stop()
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			return false
		case <-timer.C:
		}

		if err := m.spawn(ctx); err != nil {
			if errors.Is(err, errStopping) {
				m.mu.Lock()
				m.status = StatusStopped
				m.mu.Unlock()
				return false
			}
			m.logger.Error("restart failed", "name", m.config.Name, "error", err)
			m.mu.Lock()
			m.lastError = err
			m.mu.Unlock()
			continue
		}
		return true
	}
}

// calculateBackoffDelay doubles RestartDelay per attempt up to MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return delay
}

// Stop sends SIGTERM to the child's process group, then SIGKILL after
// GracefulTimeout, and waits for supervision to end.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil || m.status == StatusStopped {
		m.mu.Unlock()
		return nil
	}
	if !m.stopRequested {
		m.stopRequested = true
		close(m.stopCh)
	}
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("SIGTERM failed", "name", m.config.Name, "error", err)
	}

	timer := time.NewTimer(m.config.GracefulTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		m.logger.Warn("graceful shutdown timed out, sending SIGKILL", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the child is up.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the cause of the most recent unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns restarts since the child last ran stably.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the child's pid, or 0 before the first start.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Uptime returns how long the current child has run, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// Stats is a point-in-time view of a Manager.
type Stats struct {
	Name         string `json:"name"`
	Status       Status `json:"status"`
	PID          int    `json:"pid,omitempty"`
	UptimeMS     int64  `json:"uptime_ms,omitempty"`
	RestartCount int    `json:"restart_count"`
	LastError    string `json:"last_error,omitempty"`
}

// Stats returns the current view.
func (m *Manager) Stats() Stats {
	s := Stats{
		Name:         m.config.Name,
		Status:       m.Status(),
		PID:          m.PID(),
		UptimeMS:     m.Uptime().Milliseconds(),
		RestartCount: m.RestartCount(),
	}
	if err := m.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}
