package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mbi-div-b/go-moench-control/internal/process"
)

// ErrInterfaceUp is returned by Start when the network interface could
// not be enabled.
var ErrInterfaceUp = errors.New("network interface bring-up failed")

// Backend variants.
const (
	BackendHardware  = "hardware"
	BackendSimulated = "simulated"
)

// ConfigLoader pushes a detector configuration file to the hardware.
type ConfigLoader interface {
	LoadConfig(ctx context.Context, path string) error
}

// Endpoint is an IP/port pair.
type Endpoint struct {
	IP   string
	Port int
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the backend state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when a backend process has been spawned.
	OnStart func(name string, pid int)

	// OnReadyCheck is called after every readiness poll.
	OnReadyCheck func(ready bool)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Backend          string
	ExecutablesPath  string
	ReceiverBinary   string
	SimulatorBinary  string
	ProcessingBinary string // empty = no processing process
	ReceiverPort     int
	ProcessingRX     Endpoint
	ProcessingTX     Endpoint
	ProcessingCores  int
	ConfigFile       string
	Interface        string // empty = skip bring-up
	Credential       string // used only when Executor is nil

	SettleInterval  time.Duration
	ConfigPushDelay time.Duration

	Executor  process.Executor
	Table     process.Table
	Loader    ConfigLoader
	Logger    *slog.Logger
	Verbose   bool
	Callbacks Callbacks
}

// Supervisor starts, checks and stops the backend processes. Liveness is
// always recomputed from the OS process table; nothing here caches it as
// authoritative.
type Supervisor struct {
	cfg       Config
	exec      process.Executor
	table     process.Table
	loader    ConfigLoader
	logger    *slog.Logger
	callbacks Callbacks

	state   State
	stateMu sync.RWMutex

	mu      sync.Mutex
	handles map[string]*ProcessHandle
	spawned map[string]*process.Spawned

	sleep func(ctx context.Context, d time.Duration) error
	kill  func(ctx context.Context, exec process.Executor, p process.Proc, privileged bool) error
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exec := cfg.Executor
	if exec == nil {
		exec = process.NewSudoExecutor(cfg.Credential, logger, cfg.Verbose)
	}
	table := cfg.Table
	if table == nil {
		table = process.NewProcTable()
	}

	return &Supervisor{
		cfg:       cfg,
		exec:      exec,
		table:     table,
		loader:    cfg.Loader,
		logger:    logger,
		callbacks: cfg.Callbacks,
		state:     StateStopped,
		handles:   make(map[string]*ProcessHandle),
		spawned:   make(map[string]*process.Spawned),
		sleep:     sleepCtx,
		kill:      process.Kill,
	}
}

// Simulated reports whether the supervisor runs the simulator backend.
func (s *Supervisor) Simulated() bool {
	return s.cfg.Backend == BackendSimulated
}

// Start brings the backend up and returns the readiness observed right
// after. Only interface bring-up failure and cancellation are returned as
// errors; every other failure is logged and shows up as not ready.
func (s *Supervisor) Start(ctx context.Context) (bool, error) {
	s.setState(StateStarting)
	s.logger.Info("backend_starting",
		"backend", s.cfg.Backend,
		"receiver_port", s.cfg.ReceiverPort,
	)

	if s.cfg.Interface != "" {
		err := s.exec.Run(ctx, process.Command{
			Name:       "ifup",
			Path:       "ifup",
			Args:       []string{s.cfg.Interface},
			Privileged: true,
		})
		if err != nil {
			s.setState(StateDegraded)
			return false, fmt.Errorf("%w: %s: %v", ErrInterfaceUp, s.cfg.Interface, err)
		}
		s.logger.Info("interface_up", "interface", s.cfg.Interface)
	}

	if s.Simulated() {
		s.spawn(ctx, s.simulatorCommand())
		// Process start is not observable as ready
		if err := s.sleep(ctx, s.cfg.SettleInterval); err != nil {
			return false, err
		}
	}

	s.spawn(ctx, s.receiverCommand())

	if s.cfg.ProcessingBinary != "" {
		s.spawn(ctx, s.processingCommand())
	}

	pushes := 1
	if s.Simulated() {
		// The simulator's driver drops the first config push on cold start.
		pushes = 2
	}
	for i := 0; i < pushes; i++ {
		if err := s.pushConfig(ctx, i+1); err != nil {
			return false, err
		}
	}

	ready := s.IsReady(ctx)
	s.logger.Info("backend_started", "ready", ready)
	return ready, nil
}

// pushConfig loads the detector config once and waits for it to apply.
// Only cancellation is returned.
func (s *Supervisor) pushConfig(ctx context.Context, attempt int) error {
	if s.loader == nil || s.cfg.ConfigFile == "" {
		return nil
	}
	if err := s.loader.LoadConfig(ctx, s.cfg.ConfigFile); err != nil {
		s.logger.Warn("config_push_failed",
			"path", s.cfg.ConfigFile,
			"attempt", attempt,
			"error", err,
		)
	} else {
		s.logger.Info("config_pushed", "path", s.cfg.ConfigFile, "attempt", attempt)
	}
	return s.sleep(ctx, s.cfg.ConfigPushDelay)
}

// spawn launches c and registers its handle. Failures are logged.
func (s *Supervisor) spawn(ctx context.Context, c process.Command) {
	s.mu.Lock()
	s.handles[c.Name] = &ProcessHandle{
		Name:       c.Name,
		Command:    c,
		Privileged: c.Privileged,
	}
	s.mu.Unlock()

	sp, err := s.exec.Start(ctx, c)
	if err != nil {
		s.logger.Error("process_start_failed",
			"name", c.Name,
			"command", c.String(),
			"error", err,
		)
		return
	}
	if sp == nil {
		return
	}

	s.mu.Lock()
	s.spawned[c.Name] = sp
	s.mu.Unlock()

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(c.Name, sp.PID)
	}
}

func (s *Supervisor) binary(name string) string {
	if s.cfg.ExecutablesPath == "" {
		return name
	}
	return filepath.Join(s.cfg.ExecutablesPath, name)
}

func (s *Supervisor) simulatorCommand() process.Command {
	return process.Command{
		Name: s.cfg.SimulatorBinary,
		Path: s.binary(s.cfg.SimulatorBinary),
	}
}

func (s *Supervisor) receiverCommand() process.Command {
	return process.Command{
		Name:       s.cfg.ReceiverBinary,
		Path:       s.binary(s.cfg.ReceiverBinary),
		Args:       []string{"-t", strconv.Itoa(s.cfg.ReceiverPort)},
		Privileged: true,
	}
}

func (s *Supervisor) processingCommand() process.Command {
	return process.Command{
		Name: s.cfg.ProcessingBinary,
		Path: s.binary(s.cfg.ProcessingBinary),
		Args: []string{
			s.cfg.ProcessingRX.IP, strconv.Itoa(s.cfg.ProcessingRX.Port),
			s.cfg.ProcessingTX.IP, strconv.Itoa(s.cfg.ProcessingTX.Port),
			strconv.Itoa(s.cfg.ProcessingCores),
		},
	}
}

// required lists the commands whose processes must be running.
func (s *Supervisor) required() []process.Command {
	var cmds []process.Command
	if s.Simulated() {
		cmds = append(cmds, s.simulatorCommand())
	}
	cmds = append(cmds, s.receiverCommand())
	if s.cfg.ProcessingBinary != "" {
		cmds = append(cmds, s.processingCommand())
	}
	return cmds
}

// IsReady queries the process table and returns true only if every
// required process is present. Callers must poll.
func (s *Supervisor) IsReady(ctx context.Context) bool {
	ready := true
	for _, h := range s.observe(ctx) {
		if !h.Alive {
			ready = false
		}
	}

	if ready {
		s.setState(StateReady)
	} else {
		s.setState(StateDegraded)
	}
	if s.callbacks.OnReadyCheck != nil {
		s.callbacks.OnReadyCheck(ready)
	}
	return ready
}

// observe checks each required process and refreshes its handle.
func (s *Supervisor) observe(ctx context.Context) []ProcessHandle {
	var out []ProcessHandle
	for _, c := range s.required() {
		h := ProcessHandle{
			Name:       c.Name,
			Command:    c,
			Privileged: c.Privileged,
			CheckedAt:  time.Now(),
		}
		if ctx.Err() == nil {
			procs, err := s.table.Find(c.Name)
			if err != nil {
				s.logger.Warn("process_table_query_failed", "name", c.Name, "error", err)
			}
			for _, p := range procs {
				h.PIDs = append(h.PIDs, p.PID)
			}
			h.Alive = len(h.PIDs) > 0
		}

		s.mu.Lock()
		if sp := s.spawned[c.Name]; sp != nil {
			h.RecentOutput = sp.Output.RecentLines(5)
		}
		if _, ok := s.handles[c.Name]; ok {
			stored := h
			s.handles[c.Name] = &stored
		}
		s.mu.Unlock()

		if !h.Alive {
			s.logger.Debug("process_missing", "name", c.Name)
		}
		out = append(out, h)
	}
	return out
}

// WaitUntilReady polls IsReady up to maxAttempts times, sleeping interval
// between polls. Returns false on exhaustion or cancellation.
func (s *Supervisor) WaitUntilReady(ctx context.Context, maxAttempts int, interval time.Duration) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.IsReady(ctx) {
			s.logger.Info("backend_ready", "attempt", attempt)
			return true
		}
		if attempt == maxAttempts {
			break
		}
		if err := s.sleep(ctx, interval); err != nil {
			return false
		}
	}
	s.logger.Warn("backend_not_ready", "attempts", maxAttempts, "interval", interval)
	return false
}

// Stop kills every process matching the backend's known names, the
// receiver through elevated privilege. Already-dead processes are not
// an error, so Stop is safe to call repeatedly and after a failed Start.
func (s *Supervisor) Stop(ctx context.Context) error {
	var errs []error

	cmds := []process.Command{s.simulatorCommand(), s.receiverCommand()}
	if s.cfg.ProcessingBinary != "" {
		cmds = append(cmds, s.processingCommand())
	}

	for _, c := range cmds {
		if c.Name == "" {
			continue
		}
		procs, err := s.table.Find(c.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("find %s: %w", c.Name, err))
			continue
		}
		for _, p := range procs {
			if err := s.kill(ctx, s.exec, p, c.Privileged); err != nil {
				errs = append(errs, err)
				continue
			}
			s.logger.Info("process_killed", "name", c.Name, "pid", p.PID)
		}

		s.mu.Lock()
		delete(s.handles, c.Name)
		delete(s.spawned, c.Name)
		s.mu.Unlock()
	}

	s.setState(StateStopped)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Processes returns the required processes with freshly queried liveness.
func (s *Supervisor) Processes(ctx context.Context) []ProcessHandle {
	return s.observe(ctx)
}

// Handles returns the processes registered by Start and not yet killed.
func (s *Supervisor) Handles() []ProcessHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProcessHandle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, *h)
	}
	return out
}

// State returns the current backend state.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if oldState != newState && s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
