package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbi-div-b/go-moench-control/internal/detector"
	"github.com/mbi-div-b/go-moench-control/internal/preview"
	"github.com/mbi-div-b/go-moench-control/internal/supervisor"
)

// Errors returned by controller commands.
var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrHardware           = errors.New("hardware handle error")
	ErrUnableToAcquire    = errors.New("unable to acquire")
	ErrWriteNotAllowed    = errors.New("write not allowed")
	ErrFileExists         = errors.New("output file already exists")
	ErrInvalidValue       = errors.New("invalid value")
)

// StartResult is the outcome of a start command that did not fail.
type StartResult int

const (
	// Started means a worker was dispatched.
	Started StartResult = iota

	// AlreadyRunning means the hardware or a worker is already acquiring.
	// Nothing was changed.
	AlreadyRunning
)

// String returns a human-readable name for the result.
func (r StartResult) String() string {
	if r == AlreadyRunning {
		return "already running"
	}
	return "started"
}

// Run kinds.
const (
	KindNormal   = "normal"
	KindPedestal = "pedestal"
)

// Run results reported to OnAcquisitionDone.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultStopped = "stopped"
)

// Backend is the part of the process supervisor the controller needs.
type Backend interface {
	WaitUntilReady(ctx context.Context, maxAttempts int, interval time.Duration) bool
	Stop(ctx context.Context) error
}

// Run describes one dispatched acquisition.
type Run struct {
	ID        string
	Kind      string
	Path      string // output image path, meaningful when FileWrite is set
	FileIndex int
	FileWrite bool
	Streaming bool
	Frames    int
	Period    time.Duration
	Started   time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func (r *Run) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Run) stopRequested() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// ControllerCallbacks contains optional callbacks for controller events.
type ControllerCallbacks struct {
	// OnStateChange is called when the externally visible state changes.
	// It may run with the worker lock held and must not call back into
	// the Controller.
	OnStateChange func(oldState, newState detector.DeviceState)

	// OnRunState is called with every hardware run state observed.
	OnRunState func(rs detector.RunState)

	// OnAcquisitionStart is called after a worker is dispatched.
	OnAcquisitionStart func(run *Run)

	// OnAcquisitionDone is called when a worker finishes.
	OnAcquisitionDone func(run *Run, result string, elapsed time.Duration, err error)

	// OnRejected is called when a start command does not dispatch.
	OnRejected func(reason string)

	// OnFileIndex is called when the file index or last path changes.
	OnFileIndex func(index int, lastPath string)

	// OnOutputMissing is called when a written file never appeared.
	OnOutputMissing func(path string)

	// OnLastImage is called when a written image has been loaded.
	OnLastImage func(img preview.Image)
}

// ControllerConfig holds configuration for creating a Controller.
type ControllerConfig struct {
	Handle  detector.Handle
	Backend Backend // nil skips the readiness gate and teardown

	ReadyAttempts int
	ReadyInterval time.Duration
	ProbeAttempts int
	ProbeBackoff  supervisor.BackoffConfig

	PollInterval    time.Duration
	SettleDelay     time.Duration
	StopWait        time.Duration
	PedestalFrames  int
	OutputExt       string
	OutputWaitTries int
	OutputWaitStep  time.Duration
	// LoadImage reads a written image; defaults to preview.Load.
	LoadImage func(path string) (preview.Image, error)

	Logger    *slog.Logger
	Callbacks ControllerCallbacks
}

// Controller sequences acquisitions against a hardware handle. Commands
// are serialized; the blocking start, poll and stop sequence runs on a
// worker goroutine so commands stay responsive during a run.
type Controller struct {
	cfg       ControllerConfig
	handle    detector.Handle
	backend   Backend
	logger    *slog.Logger
	callbacks ControllerCallbacks

	// ctx outlives individual commands and bounds the workers.
	ctx    context.Context
	cancel context.CancelFunc

	stateMu  sync.RWMutex
	state    detector.DeviceState
	runState detector.RunState

	// cmdMu serializes commands and session writes.
	cmdMu sync.Mutex

	sessMu    sync.RWMutex
	session   Session
	lastPath  string
	lastImage preview.Image

	workerMu sync.Mutex
	run      *Run
	done     chan struct{}  // closed when the current worker exits
	bg       sync.WaitGroup // output watchers

	sleep func(ctx context.Context, d time.Duration) error
	seed  int64
}

// NewController creates a Controller in the INIT state.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadyAttempts < 1 {
		cfg.ReadyAttempts = 1
	}
	if cfg.ProbeAttempts < 1 {
		cfg.ProbeAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.PedestalFrames <= 0 {
		cfg.PedestalFrames = 5000
	}
	if cfg.OutputExt == "" {
		cfg.OutputExt = "tiff"
	}
	if cfg.LoadImage == nil {
		cfg.LoadImage = preview.Load
	}
	if cfg.ProbeBackoff.Initial <= 0 {
		cfg.ProbeBackoff = supervisor.DefaultBackoffConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:       cfg,
		handle:    cfg.Handle,
		backend:   cfg.Backend,
		logger:    cfg.Logger,
		callbacks: cfg.Callbacks,
		ctx:       ctx,
		cancel:    cancel,
		state:     detector.StateInit,
		sleep:     sleepCtx,
		seed:      time.Now().UnixNano(),
	}
}

// Init waits for the backend, probes the hardware and loads the session.
// Any failure leaves the controller in FAULT with the backend torn down.
// Init may be called again to clear a FAULT.
func (c *Controller) Init(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.inFlight() {
		return fmt.Errorf("%w: acquisition in progress", ErrUnableToAcquire)
	}

	c.setState(detector.StateInit)
	c.logger.Info("controller_initializing")

	if c.backend != nil {
		if !c.backend.WaitUntilReady(ctx, c.cfg.ReadyAttempts, c.cfg.ReadyInterval) {
			err := fmt.Errorf("%w: not ready after %d attempts", ErrBackendUnavailable, c.cfg.ReadyAttempts)
			c.fault(ctx, err)
			return err
		}
	}

	rs, err := c.probe(ctx)
	if err != nil {
		c.fault(ctx, err)
		return err
	}

	sess, err := c.loadSession(ctx)
	if err != nil {
		c.fault(ctx, err)
		return err
	}
	c.sessMu.Lock()
	c.session = sess
	c.sessMu.Unlock()
	c.notifyFileIndex()

	c.observeRunState(rs)
	c.setState(detector.MapRunState(rs))
	c.logger.Info("controller_initialized",
		"run_state", rs.String(),
		"state", c.State().String(),
		"next_path", c.NextPath(),
	)
	return nil
}

// probe reads the run state, retrying with backoff.
func (c *Controller) probe(ctx context.Context) (detector.RunState, error) {
	b := supervisor.NewBackoff(c.seed, c.cfg.ProbeBackoff)
	for attempt := 1; ; attempt++ {
		rs, err := c.handle.Status(ctx)
		if err == nil {
			return rs, nil
		}
		c.logger.Warn("hardware_probe_failed", "attempt", attempt, "error", err)
		if attempt >= c.cfg.ProbeAttempts {
			return 0, fmt.Errorf("%w: status: %v", ErrHardware, err)
		}
		if err := c.sleep(ctx, b.Next()); err != nil {
			return 0, err
		}
	}
}

// fault moves to FAULT and tears the backend down.
func (c *Controller) fault(ctx context.Context, cause error) {
	c.setState(detector.StateFault)
	c.teardown(ctx, cause)
}

// teardown logs the fault and stops the backend.
func (c *Controller) teardown(ctx context.Context, cause error) {
	c.logger.Error("controller_fault", "error", cause)

	if c.backend == nil {
		return
	}
	if err := c.backend.Stop(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("backend_teardown_failed", "error", err)
	}
}

// State returns the externally visible state.
func (c *Controller) State() detector.DeviceState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// RunState returns the last observed hardware run state.
func (c *Controller) RunState() detector.RunState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.runState
}

func (c *Controller) setState(newState detector.DeviceState) {
	c.stateMu.Lock()
	oldState := c.state
	c.state = newState
	c.stateMu.Unlock()

	if oldState != newState {
		c.logger.Debug("controller_state_change", "from", oldState.String(), "to", newState.String())
		if c.callbacks.OnStateChange != nil {
			c.callbacks.OnStateChange(oldState, newState)
		}
	}
}

func (c *Controller) observeRunState(rs detector.RunState) {
	c.stateMu.Lock()
	c.runState = rs
	c.stateMu.Unlock()
	if c.callbacks.OnRunState != nil {
		c.callbacks.OnRunState(rs)
	}
}

// Refresh re-reads the hardware run state and maps it to the visible
// state. FAULT and INIT are left alone; they are cleared only by Init.
func (c *Controller) Refresh(ctx context.Context) (detector.RunState, error) {
	switch c.State() {
	case detector.StateFault, detector.StateInit:
		return c.RunState(), nil
	}

	rs, err := c.handle.Status(ctx)
	if err != nil {
		err = fmt.Errorf("%w: status: %v", ErrHardware, err)
		c.fault(ctx, err)
		return 0, err
	}
	c.observeRunState(rs)

	if c.inFlight() {
		c.setState(detector.StateBusy)
	} else {
		c.setState(detector.MapRunState(rs))
	}
	return rs, nil
}

// inFlight reports whether a worker is running.
func (c *Controller) inFlight() bool {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	return c.run != nil
}

// checkStartable validates the controller and hardware state for a new
// run. It returns AlreadyRunning with a nil error when the hardware is
// already acquiring.
func (c *Controller) checkStartable(ctx context.Context) (StartResult, error) {
	switch c.State() {
	case detector.StateFault:
		c.reject("fault")
		return 0, fmt.Errorf("%w: controller is FAULT, reinitialize first", ErrUnableToAcquire)
	case detector.StateInit:
		c.reject("not_initialized")
		return 0, fmt.Errorf("%w: controller is not initialized", ErrUnableToAcquire)
	}

	if c.inFlight() {
		c.logger.Info("acquisition_already_running", "run_id", c.currentRunID())
		c.reject("already_running")
		return AlreadyRunning, nil
	}

	rs, err := c.handle.Status(ctx)
	if err != nil {
		err = fmt.Errorf("%w: status: %v", ErrHardware, err)
		c.fault(ctx, err)
		return 0, err
	}
	c.observeRunState(rs)

	switch rs {
	case detector.RunIdle:
		return Started, nil
	case detector.RunRunning:
		c.logger.Info("acquisition_already_running", "run_state", rs.String())
		c.reject("already_running")
		return AlreadyRunning, nil
	default:
		c.reject("run_state")
		return 0, fmt.Errorf("%w: hardware run state is %s", ErrUnableToAcquire, rs)
	}
}

func (c *Controller) reject(reason string) {
	if c.callbacks.OnRejected != nil {
		c.callbacks.OnRejected(reason)
	}
}

func (c *Controller) currentRunID() string {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if c.run == nil {
		return ""
	}
	return c.run.ID
}

// StartAcquire dispatches one acquisition and returns without waiting
// for it. The hardware must be IDLE; RUNNING yields AlreadyRunning.
func (c *Controller) StartAcquire(ctx context.Context) (StartResult, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	res, err := c.checkStartable(ctx)
	if err != nil || res == AlreadyRunning {
		return res, err
	}

	run, err := c.newRun(KindNormal)
	if err != nil {
		c.reject("file_exists")
		return 0, err
	}
	if err := c.dispatch(run, nil); err != nil {
		c.reject("fault")
		return 0, err
	}
	return Started, nil
}

// AcquirePedestal runs a pedestal acquisition: frame mode and frame count
// are overridden for the run and restored afterwards, also when the run
// fails. The file index is not advanced.
func (c *Controller) AcquirePedestal(ctx context.Context) (StartResult, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	res, err := c.checkStartable(ctx)
	if err != nil || res == AlreadyRunning {
		return res, err
	}

	mode, frames, err := c.snapshotPedestal(ctx)
	if err != nil {
		c.fault(ctx, err)
		return 0, err
	}
	restore := func(ctx context.Context) error {
		return c.restorePedestal(ctx, mode, frames)
	}

	if err := c.overridePedestal(ctx); err != nil {
		if rerr := restore(ctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
		c.fault(ctx, err)
		return 0, err
	}

	run, err := c.newRun(KindPedestal)
	if err != nil {
		if rerr := restore(ctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
		c.reject("file_exists")
		return 0, err
	}
	if err := c.dispatch(run, restore); err != nil {
		if rerr := restore(ctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
		c.reject("fault")
		return 0, err
	}
	return Started, nil
}

func (c *Controller) snapshotPedestal(ctx context.Context) (detector.FrameMode, int, error) {
	rawMode, err := c.handle.Get(ctx, detector.ParamFrameMode)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read frame mode: %v", ErrHardware, err)
	}
	mode, err := detector.ParseFrameMode(rawMode)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrHardware, err)
	}
	rawFrames, err := c.handle.Get(ctx, detector.ParamFrames)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read frames: %v", ErrHardware, err)
	}
	frames, err := detector.ParseInt(rawFrames)
	if err != nil {
		return "", 0, fmt.Errorf("%w: frames %q: %v", ErrHardware, rawFrames, err)
	}
	return mode, frames, nil
}

func (c *Controller) overridePedestal(ctx context.Context) error {
	if err := c.handle.Set(ctx, detector.ParamFrameMode, string(detector.FrameNewPedestal)); err != nil {
		return fmt.Errorf("%w: set frame mode: %v", ErrHardware, err)
	}
	c.updateSession(func(s *Session) { s.FrameMode = detector.FrameNewPedestal })

	if err := c.handle.Set(ctx, detector.ParamFrames, fmt.Sprint(c.cfg.PedestalFrames)); err != nil {
		return fmt.Errorf("%w: set frames: %v", ErrHardware, err)
	}
	c.updateSession(func(s *Session) { s.Frames = c.cfg.PedestalFrames })
	return nil
}

// restorePedestal writes back both values even if the first write fails.
func (c *Controller) restorePedestal(ctx context.Context, mode detector.FrameMode, frames int) error {
	var errs []error
	if err := c.handle.Set(ctx, detector.ParamFrameMode, string(mode)); err != nil {
		errs = append(errs, fmt.Errorf("%w: restore frame mode: %v", ErrHardware, err))
	} else {
		c.updateSession(func(s *Session) { s.FrameMode = mode })
	}
	if err := c.handle.Set(ctx, detector.ParamFrames, fmt.Sprint(frames)); err != nil {
		errs = append(errs, fmt.Errorf("%w: restore frames: %v", ErrHardware, err))
	} else {
		c.updateSession(func(s *Session) { s.Frames = frames })
	}
	c.logger.Info("pedestal_settings_restored", "frame_mode", string(mode), "frames", frames)
	return errors.Join(errs...)
}

// newRun builds the run from the current session and refuses to start a
// file-writing run whose output already exists.
func (c *Controller) newRun(kind string) (*Run, error) {
	sess := c.Session()
	run := &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Path:      c.nextPath(sess),
		FileIndex: sess.FileIndex,
		FileWrite: sess.FileWrite,
		Streaming: sess.Streaming,
		Frames:    sess.Frames,
		Period:    sess.Period,
		stop:      make(chan struct{}),
	}

	if run.FileWrite {
		if existing, ok := c.collision(sess.FilePath, sess.FileName, sess.FileIndex, sess.FrameMode.IsPedestal()); ok {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, existing)
		}
		if fileExists(run.Path) {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, run.Path)
		}
	}
	return run, nil
}

// dispatch starts the worker. restore, if set, runs after the hardware
// sequence whatever its outcome. It refuses when the controller faulted
// while the run was being prepared.
func (c *Controller) dispatch(run *Run, restore func(context.Context) error) error {
	done := make(chan struct{})
	run.Started = time.Now()

	// run and BUSY change together under workerMu, as in worker.
	c.workerMu.Lock()
	if c.State() == detector.StateFault {
		c.workerMu.Unlock()
		return fmt.Errorf("%w: controller is FAULT, reinitialize first", ErrUnableToAcquire)
	}
	c.run = run
	c.done = done
	c.setState(detector.StateBusy)
	c.workerMu.Unlock()

	c.logger.Info("acquisition_dispatched",
		"run_id", run.ID,
		"kind", run.Kind,
		"path", run.Path,
		"file_write", run.FileWrite,
		"frames", run.Frames,
	)
	if c.callbacks.OnAcquisitionStart != nil {
		c.callbacks.OnAcquisitionStart(run)
	}

	go c.worker(run, restore, done)
	return nil
}

func (c *Controller) worker(run *Run, restore func(context.Context) error, done chan struct{}) {
	defer close(done)
	ctx := c.ctx

	err := c.blockAcquire(ctx, run)
	if restore != nil {
		// Restore must not be skipped because the controller is closing.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if rerr := restore(rctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
		cancel()
	}
	elapsed := time.Since(run.Started)

	result := ResultOK
	switch {
	case err != nil:
		result = ResultError
	case run.stopRequested():
		result = ResultStopped
	}

	if err == nil && run.FileWrite {
		c.recordWritten(ctx, run)
	}

	hwErr := errors.Is(err, ErrHardware)
	c.workerMu.Lock()
	if c.run == run {
		c.run = nil
	}
	switch {
	case hwErr:
		c.setState(detector.StateFault)
	case c.run == nil && c.State() == detector.StateBusy:
		c.setState(detector.StateReady)
	}
	c.workerMu.Unlock()
	if hwErr {
		c.teardown(ctx, err)
	}

	if err != nil {
		c.logger.Error("acquisition_failed", "run_id", run.ID, "kind", run.Kind, "error", err)
	} else {
		c.logger.Info("acquisition_finished",
			"run_id", run.ID,
			"kind", run.Kind,
			"result", result,
			"elapsed", elapsed.String(),
		)
	}
	if c.callbacks.OnAcquisitionDone != nil {
		c.callbacks.OnAcquisitionDone(run, result, elapsed, err)
	}

	if err == nil && run.FileWrite {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			c.awaitOutput(ctx, run)
		}()
	}
}

// blockAcquire runs the hardware sequence. The receiver is started
// before the detector and stopped only after the run state has settled.
func (c *Controller) blockAcquire(ctx context.Context, run *Run) error {
	if run.Streaming {
		if err := c.handle.Set(ctx, detector.ParamStreaming, detector.FormatBool(true)); err != nil {
			return fmt.Errorf("%w: enable streaming: %v", ErrHardware, err)
		}
	}

	if err := c.handle.StartReceiver(ctx); err != nil {
		return fmt.Errorf("%w: start receiver: %v", ErrHardware, err)
	}
	c.logger.Debug("receiver_started", "run_id", run.ID)

	if err := c.handle.StartDetector(ctx); err != nil {
		return errors.Join(
			fmt.Errorf("%w: start detector: %v", ErrHardware, err),
			c.finishRun(ctx, run),
		)
	}
	c.logger.Debug("detector_started", "run_id", run.ID)

	// The run state lags startDetector; polling at once would see IDLE.
	wait := c.cfg.SettleDelay + time.Duration(run.Frames)*run.Period
	select {
	case <-ctx.Done():
	case <-run.stop:
	case <-time.After(wait):
	}

	for {
		if ctx.Err() != nil {
			return errors.Join(ctx.Err(), c.finishRun(context.WithoutCancel(ctx), run))
		}
		rs, err := c.handle.Status(ctx)
		if err != nil {
			return errors.Join(
				fmt.Errorf("%w: status: %v", ErrHardware, err),
				c.finishRun(ctx, run),
			)
		}
		c.observeRunState(rs)
		c.logger.Debug("run_state_polled", "run_id", run.ID, "run_state", rs.String())

		if rs.Settled() {
			break
		}
		if rs == detector.RunError {
			return errors.Join(
				fmt.Errorf("%w: detector reported ERROR", ErrHardware),
				c.finishRun(ctx, run),
			)
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			continue
		}
	}

	return c.finishRun(ctx, run)
}

// finishRun stops the receiver and disables streaming if this run
// enabled it.
func (c *Controller) finishRun(ctx context.Context, run *Run) error {
	var errs []error
	if err := c.handle.StopReceiver(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%w: stop receiver: %v", ErrHardware, err))
	} else {
		c.logger.Debug("receiver_stopped", "run_id", run.ID)
	}
	if run.Streaming {
		if err := c.handle.Set(ctx, detector.ParamStreaming, detector.FormatBool(false)); err != nil {
			errs = append(errs, fmt.Errorf("%w: disable streaming: %v", ErrHardware, err))
		}
	}
	return errors.Join(errs...)
}

// recordWritten records the path written and, for normal runs, advances
// the file index.
func (c *Controller) recordWritten(ctx context.Context, run *Run) {
	c.sessMu.Lock()
	c.lastPath = run.Path
	c.sessMu.Unlock()

	if run.Kind == KindNormal {
		next := run.FileIndex + 1
		if err := c.handle.Set(ctx, detector.ParamFileIndex, fmt.Sprint(next)); err != nil {
			c.logger.Error("file_index_advance_failed", "run_id", run.ID, "index", next, "error", err)
		} else {
			c.updateSession(func(s *Session) { s.FileIndex = next })
		}
	}
	c.notifyFileIndex()
}

// awaitOutput polls for the output file written by the receiver pipeline.
func (c *Controller) awaitOutput(ctx context.Context, run *Run) {
	for i := 0; i < c.cfg.OutputWaitTries; i++ {
		if fileExists(run.Path) {
			c.logger.Info("output_file_ready", "run_id", run.ID, "path", run.Path)
			c.loadLastImage(run)
			return
		}
		if err := c.sleep(ctx, c.cfg.OutputWaitStep); err != nil {
			return
		}
	}
	if c.cfg.OutputWaitTries > 0 {
		c.logger.Warn("output_file_missing", "run_id", run.ID, "path", run.Path)
		if c.callbacks.OnOutputMissing != nil {
			c.callbacks.OnOutputMissing(run.Path)
		}
	}
}

// loadLastImage reads the written image into the last-image summary.
func (c *Controller) loadLastImage(run *Run) {
	img, err := c.cfg.LoadImage(run.Path)
	if err != nil {
		c.logger.Warn("last_image_unreadable", "run_id", run.ID, "path", run.Path, "error", err)
		return
	}

	c.sessMu.Lock()
	c.lastImage = img
	c.sessMu.Unlock()

	c.logger.Info("last_image_loaded",
		"run_id", run.ID,
		"width", img.Width,
		"height", img.Height,
		"sum", img.Sum,
		"max", img.Max,
	)
	if c.callbacks.OnLastImage != nil {
		c.callbacks.OnLastImage(img)
	}
}

// LastImage returns the summary of the last image loaded.
func (c *Controller) LastImage() preview.Image {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.lastImage
}

// StopAcquire stops the hardware and forces READY. It waits up to
// StopWait for the worker and reports whether it exited; the caller
// should re-poll the run state when it did not.
func (c *Controller) StopAcquire(ctx context.Context) (bool, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.workerMu.Lock()
	run, done := c.run, c.done
	c.workerMu.Unlock()

	if run != nil {
		run.requestStop()
	}

	if err := c.handle.StopDetector(ctx); err != nil {
		err = fmt.Errorf("%w: stop detector: %v", ErrHardware, err)
		c.fault(ctx, err)
		return false, err
	}
	c.logger.Info("acquisition_stop_requested", "run_id", c.currentRunID())

	switch c.State() {
	case detector.StateFault, detector.StateInit:
	default:
		c.setState(detector.StateReady)
	}

	if run == nil {
		return true, nil
	}
	if c.cfg.StopWait <= 0 {
		return false, nil
	}

	timer := time.NewTimer(c.cfg.StopWait)
	defer timer.Stop()
	select {
	case <-done:
		return true, nil
	case <-timer.C:
		c.logger.Warn("stop_wait_elapsed", "run_id", run.ID, "wait", c.cfg.StopWait.String())
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Wait blocks until the current worker, if any, exits.
func (c *Controller) Wait(ctx context.Context) error {
	c.workerMu.Lock()
	done := c.done
	c.workerMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any worker and waits for it and the output watchers.
func (c *Controller) Close() {
	c.cancel()
	_ = c.Wait(context.Background())
	c.bg.Wait()
}

// Snapshot is a point-in-time view for dashboards.
type Snapshot struct {
	State      detector.DeviceState
	RunState   detector.RunState
	Session    Session
	NextPath   string
	LastPath   string
	LastImage  preview.Image
	InFlight   bool
	RunID      string
	RunKind    string
	RunStarted time.Time
}

// Snapshot returns the current controller view without touching hardware.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		State:    c.State(),
		RunState: c.RunState(),
		Session:  c.Session(),
		LastPath: c.LastPath(),
	}
	s.LastImage = c.LastImage()
	s.NextPath = c.nextPath(s.Session)

	c.workerMu.Lock()
	if c.run != nil {
		s.InFlight = true
		s.RunID = c.run.ID
		s.RunKind = c.run.Kind
		s.RunStarted = c.run.Started
	}
	c.workerMu.Unlock()
	return s
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
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
