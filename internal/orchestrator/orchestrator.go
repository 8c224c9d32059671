package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mbi-div-b/go-moench-control/internal/config"
	"github.com/mbi-div-b/go-moench-control/internal/detector"
	"github.com/mbi-div-b/go-moench-control/internal/framestream"
	"github.com/mbi-div-b/go-moench-control/internal/metrics"
	"github.com/mbi-div-b/go-moench-control/internal/preflight"
	"github.com/mbi-div-b/go-moench-control/internal/preview"
	"github.com/mbi-div-b/go-moench-control/internal/process"
	"github.com/mbi-div-b/go-moench-control/internal/supervisor"
	"github.com/mbi-div-b/go-moench-control/internal/tui"
)

// healthInterval is how often backend liveness and the run state are
// refreshed while the orchestrator runs.
const healthInterval = 2 * time.Second

// Orchestrator wires the backend supervisor, the acquisition controller,
// the frame stream and the observability surfaces together.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	handle        detector.Handle
	supervisor    *supervisor.Supervisor
	controller    *Controller
	metrics       *metrics.Collector
	metricsServer *metrics.Server

	receiver *framestream.Receiver
	recorder *framestream.Recorder
	monitor  *FrameMonitor

	backendMu    sync.RWMutex
	backendReady bool
	processes    map[string]bool

	startTime time.Time
}

// New creates an Orchestrator for cfg. The credential is read here so a
// missing credential file fails before anything is spawned.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		version:   version,
		metrics:   metrics.NewCollector(metrics.CollectorConfig{Version: version, Backend: cfg.Backend}),
		processes: make(map[string]bool),
	}

	sup, handle, err := NewBackend(cfg, logger, supervisor.Callbacks{
		OnStateChange: o.onBackendStateChange,
		OnStart:       o.onProcessStart,
		OnReadyCheck:  o.onReadyCheck,
	})
	if err != nil {
		return nil, err
	}
	o.supervisor = sup
	o.handle = handle

	o.controller = NewController(ControllerConfig{
		Handle:        o.handle,
		Backend:       o.supervisor,
		ReadyAttempts: cfg.ReadyAttempts,
		ReadyInterval: cfg.ReadyInterval,
		ProbeAttempts: cfg.ProbeAttempts,
		ProbeBackoff: supervisor.BackoffConfig{
			Initial:    cfg.ProbeBackoffStart,
			Max:        cfg.ProbeBackoffMax,
			Multiplier: 2.0,
			JitterPct:  0.2,
		},
		PollInterval:    cfg.PollInterval,
		SettleDelay:     cfg.SettleDelay,
		StopWait:        cfg.StopWait,
		PedestalFrames:  cfg.PedestalFrames,
		OutputExt:       cfg.OutputExt,
		OutputWaitTries: cfg.OutputWaitTries,
		OutputWaitStep:  cfg.OutputWaitStep,
		Logger:          logger,
		Callbacks:       o.controllerCallbacks(),
	})

	o.metricsServer = metrics.NewServer(cfg.MetricsAddr, nil, o.ready, logger)
	return o, nil
}

// NewBackend builds the privileged executor, the CLI-backed hardware
// handle and the supervisor that shares them.
func NewBackend(cfg *config.Config, logger *slog.Logger, callbacks supervisor.Callbacks) (*supervisor.Supervisor, detector.Handle, error) {
	cred, err := cfg.Credential()
	if err != nil {
		return nil, nil, err
	}
	exec := process.NewSudoExecutor(cred, logger, cfg.Verbose)
	handle := detector.NewCLIHandle(exec, cfg.ExecutablesPath, logger)

	sup := supervisor.New(supervisor.Config{
		Backend:          cfg.Backend,
		ExecutablesPath:  cfg.ExecutablesPath,
		ReceiverBinary:   cfg.ReceiverBinary,
		SimulatorBinary:  cfg.SimulatorBinary,
		ProcessingBinary: cfg.ProcessingBinary,
		ReceiverPort:     cfg.ReceiverPort,
		ProcessingRX:     supervisor.Endpoint{IP: cfg.ProcessingRXIP, Port: cfg.ProcessingRXPort},
		ProcessingTX:     supervisor.Endpoint{IP: cfg.ProcessingTXIP, Port: cfg.ProcessingTXPort},
		ProcessingCores:  cfg.ProcessingCores,
		ConfigFile:       cfg.ConfigFile(),
		Interface:        cfg.NetworkInterface,
		SettleInterval:   cfg.SettleInterval,
		ConfigPushDelay:  cfg.ConfigPushDelay,
		Executor:         exec,
		Loader:           handle,
		Logger:           logger,
		Verbose:          cfg.Verbose,
		Callbacks:        callbacks,
	})
	return sup, handle, nil
}

// Run executes the orchestrator. It blocks until a signal, the configured
// duration, the end of a one-shot script, the dashboard quitting or ctx.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.config)
		preflight.PrintResults(result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use --skip-preflight to override)")
		}
	}

	// Start metrics server
	if err := o.metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	if err := o.startBackend(ctx); err != nil {
		o.logger.Error("backend_start_failed", "error", err)
	}

	if err := o.controller.Init(ctx); err != nil {
		o.logger.Error("controller_init_failed", "error", err)
	} else if err := o.applySessionDefaults(ctx); err != nil {
		o.logger.Warn("session_defaults_incomplete", "error", err)
	}

	var wg sync.WaitGroup

	if o.config.StreamEnabled {
		if err := o.startFrameStream(ctx, &wg); err != nil {
			o.logger.Warn("frame_stream_unavailable", "error", err)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.healthLoop(ctx)
	}()

	var program *tea.Program
	var tuiDone chan struct{}
	if o.config.TUI {
		program = tea.NewProgram(tui.New(tui.Config{
			Backend:     o.config.Backend,
			MetricsAddr: o.config.MetricsAddr,
			Source:      dashboard{o: o},
			Commands:    dashboard{o: o},
		}), tea.WithAltScreen())
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				o.logger.Error("tui_error", "error", err)
			}
		}()
	}

	scripted := o.config.Acquire > 0 || o.config.Pedestal
	scriptDone := make(chan struct{})
	go func() {
		defer close(scriptDone)
		if scripted {
			o.runScripted(ctx)
		}
	}()

	// A one-shot script ends the run when nothing else keeps it alive
	var oneShot <-chan struct{}
	if scripted && o.config.Duration == 0 && !o.config.TUI {
		oneShot = scriptDone
	}

	// Setup duration timer if configured
	var durationTimer <-chan time.Time
	if o.config.Duration > 0 {
		durationTimer = time.After(o.config.Duration)
	}

	// Wait for completion signal
	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-durationTimer:
		o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
	case <-oneShot:
		o.logger.Info("script_complete")
	case <-tuiDone:
		o.logger.Info("tui_closed")
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := o.shutdown(shutdownCtx, cancel, &wg, scriptDone); err != nil {
		o.logger.Warn("shutdown_incomplete", "error", err)
	}

	if program != nil {
		tui.SendQuit(program)
		<-tuiDone
	}

	// Print exit summary
	o.printExitSummary()

	return nil
}

// startBackend brings the backend up, first clearing stale processes
// when configured to.
func (o *Orchestrator) startBackend(ctx context.Context) error {
	if o.config.RestartBackend {
		if err := o.supervisor.Stop(ctx); err != nil {
			o.logger.Warn("backend_stale_stop_failed", "error", err)
		}
	}
	ready, err := o.supervisor.Start(ctx)
	o.metrics.BackendStarted(ready, err)
	return err
}

// applySessionDefaults writes the configured session values. Every
// write is attempted; rejected ones are joined into the error.
func (o *Orchestrator) applySessionDefaults(ctx context.Context) error {
	cfg := o.config
	c := o.controller

	var errs []error
	apply := func(name string, fn func() error) {
		if err := fn(); err != nil {
			o.logger.Warn("session_default_rejected", "param", name, "error", err)
			errs = append(errs, err)
		}
	}

	if cfg.FilePath != "" {
		apply("file_path", func() error { return c.SetFilePath(ctx, cfg.FilePath) })
	}
	if cfg.FileName != "" {
		apply("file_name", func() error { return c.SetFileName(ctx, cfg.FileName) })
	}
	if cfg.Exposure > 0 {
		apply("exposure", func() error { return c.SetExposure(ctx, cfg.Exposure) })
	}
	if cfg.Frames > 0 {
		apply("frames", func() error { return c.SetFrames(ctx, cfg.Frames) })
	}
	apply("file_write", func() error { return c.SetFileWrite(ctx, cfg.FileWrite) })
	if cfg.StreamEnabled {
		apply("stream_ip", func() error { return c.SetStreamIP(ctx, cfg.StreamIP) })
		apply("stream_port", func() error { return c.SetStreamPort(ctx, cfg.StreamPort) })
	}
	apply("streaming", func() error { return c.SetStreaming(ctx, cfg.StreamEnabled) })

	return errors.Join(errs...)
}

// startFrameStream connects the receiver and starts the monitor.
func (o *Orchestrator) startFrameStream(ctx context.Context, wg *sync.WaitGroup) error {
	o.receiver = framestream.NewReceiver(framestream.Options{
		Depth:  o.config.StreamDepth,
		Logger: o.logger,
	})
	endpoint := framestream.Endpoint(o.config.StreamIP, o.config.StreamPort)
	if err := o.receiver.Connect(ctx, endpoint); err != nil {
		return err
	}
	o.metrics.ResetStreamBaseline()

	var sink FrameSink
	if o.config.RecordPath != "" {
		rec, err := framestream.CreateRecorder(o.config.RecordPath)
		if err != nil {
			return err
		}
		o.recorder = rec
		sink = rec
		o.logger.Info("frame_recording", "path", o.config.RecordPath)
	}

	o.monitor = NewFrameMonitor(FrameMonitorConfig{
		Source:  o.receiver,
		Sink:    sink,
		Metrics: o.metrics,
		Poll:    o.config.FramePoll,
		Logger:  o.logger,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.monitor.Run(ctx)
	}()
	return nil
}

// healthLoop refreshes backend liveness and, while no run is in flight,
// the hardware run state.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.metrics.Tick()
		if o.supervisor != nil {
			// Reported through onReadyCheck
			o.supervisor.IsReady(ctx)
		}

		switch o.controller.State() {
		case detector.StateReady, detector.StateBusy:
			if o.controller.Snapshot().InFlight {
				continue
			}
			if _, err := o.controller.Refresh(ctx); err != nil && ctx.Err() == nil {
				o.logger.Warn("run_state_refresh_failed", "error", err)
			}
		}
	}
}

// runScripted runs the optional pedestal and then the configured number
// of acquisitions, each waited on. It stops at the first failure.
func (o *Orchestrator) runScripted(ctx context.Context) int {
	done := 0
	if o.config.Pedestal {
		if err := o.acquireAndWait(ctx, KindPedestal); err != nil {
			o.logger.Error("scripted_acquisition_failed", "kind", KindPedestal, "error", err)
			return done
		}
		done++
	}
	for i := 0; i < o.config.Acquire; i++ {
		if err := o.acquireAndWait(ctx, KindNormal); err != nil {
			o.logger.Error("scripted_acquisition_failed",
				"kind", KindNormal,
				"completed", i,
				"requested", o.config.Acquire,
				"error", err,
			)
			return done
		}
		done++
	}
	o.logger.Info("scripted_acquisitions_complete", "runs", done)
	return done
}

func (o *Orchestrator) acquireAndWait(ctx context.Context, kind string) error {
	if st := o.controller.State(); st != detector.StateReady {
		return fmt.Errorf("%w: controller is %s", ErrUnableToAcquire, st)
	}

	start := o.controller.StartAcquire
	if kind == KindPedestal {
		start = o.controller.AcquirePedestal
	}
	res, err := start(ctx)
	if err != nil {
		return err
	}
	if res == AlreadyRunning {
		return fmt.Errorf("%w: %s", ErrUnableToAcquire, res)
	}
	return o.controller.Wait(ctx)
}

// shutdown tears everything down in reverse order of start.
func (o *Orchestrator) shutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, scriptDone <-chan struct{}) error {
	var errs []error

	if o.controller.Snapshot().InFlight {
		if _, err := o.controller.StopAcquire(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop acquisition: %w", err))
		}
	}

	cancel()
	o.controller.Close()
	<-scriptDone
	wg.Wait()

	if o.receiver != nil {
		if err := o.receiver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close frame stream: %w", err))
		}
	}
	if o.recorder != nil {
		if err := o.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recorder: %w", err))
		}
	}
	if o.supervisor != nil {
		if err := o.supervisor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop backend: %w", err))
		}
	}
	if o.metricsServer != nil {
		if err := o.metricsServer.Shutdown(ctx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}
	return errors.Join(errs...)
}

// ready reports readiness for the /ready endpoint.
func (o *Orchestrator) ready() (bool, string) {
	st := o.controller.State()
	switch st {
	case detector.StateReady, detector.StateBusy:
		return true, st.String()
	default:
		return false, st.String()
	}
}

// backendStatus returns the last readiness observation.
func (o *Orchestrator) backendStatus() (bool, map[string]bool) {
	o.backendMu.RLock()
	defer o.backendMu.RUnlock()
	procs := make(map[string]bool, len(o.processes))
	for k, v := range o.processes {
		procs[k] = v
	}
	return o.backendReady, procs
}

// Callback handlers

func (o *Orchestrator) onBackendStateChange(oldState, newState supervisor.State) {
	o.logger.Debug("backend_state_change", "from", oldState.String(), "to", newState.String())
}

func (o *Orchestrator) onProcessStart(name string, pid int) {
	if o.config.Verbose {
		o.logger.Debug("backend_process_started", "process", name, "pid", pid)
	}
}

func (o *Orchestrator) onReadyCheck(ready bool) {
	procs := make(map[string]bool)
	if o.supervisor != nil {
		for _, h := range o.supervisor.Handles() {
			procs[h.Name] = h.Alive
		}
	}

	o.backendMu.Lock()
	o.backendReady = ready
	o.processes = procs
	o.backendMu.Unlock()

	o.metrics.SetBackendReady(ready, procs)
}

func (o *Orchestrator) controllerCallbacks() ControllerCallbacks {
	return ControllerCallbacks{
		OnStateChange: func(_, newState detector.DeviceState) {
			o.metrics.SetControllerState(newState.String())
		},
		OnRunState: func(rs detector.RunState) {
			o.metrics.SetRunState(rs.String())
		},
		OnAcquisitionStart: func(*Run) {
			o.metrics.AcquisitionStarted()
		},
		OnAcquisitionDone: func(run *Run, result string, elapsed time.Duration, _ error) {
			o.metrics.RecordAcquisition(run.Kind, result, elapsed)
		},
		OnRejected:  o.metrics.AcquisitionRejected,
		OnFileIndex: o.metrics.SetFileIndex,
		OnOutputMissing: func(string) {
			o.metrics.OutputMissing()
		},
		OnLastImage: func(img preview.Image) {
			o.metrics.SetLastImage(img.Sum, img.Max, img.Pixels())
		},
	}
}

// printExitSummary prints a summary of the session.
func (o *Orchestrator) printExitSummary() {
	summary := o.metrics.GenerateSummary()

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Println("                        moenchctl Exit Summary")
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Printf("Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Printf("Backend:                %s\n", summary.Backend)
	fmt.Printf("Final State:            %s\n", o.controller.State())
	fmt.Println()

	if len(summary.Acquisitions) > 0 {
		fmt.Println("Acquisitions:")
		keys := make([]string, 0, len(summary.Acquisitions))
		for k := range summary.Acquisitions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-22s%d\n", k, summary.Acquisitions[k])
		}
		fmt.Printf("  Rejected:             %d\n", summary.Rejections)
		fmt.Println()
	}

	if summary.DurationP50 > 0 || summary.DurationP95 > 0 {
		fmt.Println("Acquisition Duration:")
		fmt.Printf("  P50 (median):         %s\n", summary.DurationP50.Round(time.Millisecond))
		fmt.Printf("  P95:                  %s\n", summary.DurationP95.Round(time.Millisecond))
		fmt.Println()
	}

	fmt.Println("Output:")
	fmt.Printf("  File Index:           %d\n", summary.FileIndex)
	fmt.Printf("  Last Path:            %s\n", orNone(summary.LastPath))
	if summary.LastImageSum > 0 {
		fmt.Printf("  Last Image Sum:       %d\n", summary.LastImageSum)
	}
	fmt.Println()

	if summary.FramesReceived > 0 || summary.FramesDropped > 0 {
		fmt.Println("Frame Stream:")
		fmt.Printf("  Received:             %d\n", summary.FramesReceived)
		fmt.Printf("  Dropped:              %d\n", summary.FramesDropped)
		fmt.Println()
	}

	fmt.Printf("Metrics endpoint was: http://%s/metrics\n", o.config.MetricsAddr)
	fmt.Println("═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// Controller returns the acquisition controller for external access.
func (o *Orchestrator) Controller() *Controller {
	return o.controller
}

// Supervisor returns the backend supervisor for external access.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}
