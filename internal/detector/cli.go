package detector

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mbi-div-b/go-moench-control/internal/process"
)

// CLIHandle drives the detector through sls_detector_get and
// sls_detector_put. The tools talk to the detector shared memory, so the
// handle is only valid once the backend processes are up.
type CLIHandle struct {
	exec    process.Executor
	getPath string
	putPath string
	logger  *slog.Logger
}

// NewCLIHandle creates a handle using the tools found in binDir.
// An empty binDir resolves the tools from PATH.
func NewCLIHandle(exec process.Executor, binDir string, logger *slog.Logger) *CLIHandle {
	return &CLIHandle{
		exec:    exec,
		getPath: filepath.Join(binDir, "sls_detector_get"),
		putPath: filepath.Join(binDir, "sls_detector_put"),
		logger:  logger,
	}
}

// Status returns the detector run state.
func (h *CLIHandle) Status(ctx context.Context) (RunState, error) {
	v, err := h.Get(ctx, "status")
	if err != nil {
		return RunError, err
	}
	return ParseRunState(v)
}

// Get reads p and strips the echoed parameter name from the output.
func (h *CLIHandle) Get(ctx context.Context, p Param) (string, error) {
	args := strings.Fields(string(p))
	out, err := h.exec.Output(ctx, process.Command{
		Name: "sls_detector_get",
		Path: h.getPath,
		Args: args,
	})
	if err != nil {
		return "", fmt.Errorf("get %s: %w", p, err)
	}
	return parseGetOutput(string(out), args), nil
}

// Set writes value to p.
func (h *CLIHandle) Set(ctx context.Context, p Param, value string) error {
	return h.put(ctx, append(strings.Fields(string(p)), value)...)
}

// LoadConfig pushes a detector configuration file.
func (h *CLIHandle) LoadConfig(ctx context.Context, path string) error {
	return h.put(ctx, "config", path)
}

// StartReceiver arms the receiver to listen for frames.
func (h *CLIHandle) StartReceiver(ctx context.Context) error { return h.put(ctx, "rx_start") }

// StopReceiver closes the receiver's current run.
func (h *CLIHandle) StopReceiver(ctx context.Context) error { return h.put(ctx, "rx_stop") }

// StartDetector starts the acquisition without blocking.
func (h *CLIHandle) StartDetector(ctx context.Context) error { return h.put(ctx, "start") }

// StopDetector aborts the acquisition.
func (h *CLIHandle) StopDetector(ctx context.Context) error { return h.put(ctx, "stop") }

func (h *CLIHandle) put(ctx context.Context, args ...string) error {
	h.logger.Debug("detector_put", "args", strings.Join(args, " "))
	if err := h.exec.Run(ctx, process.Command{
		Name: "sls_detector_put",
		Path: h.putPath,
		Args: args,
	}); err != nil {
		return fmt.Errorf("put %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

// parseGetOutput returns the value from the last line of tool output,
// which echoes the command words before the value.
func parseGetOutput(out string, args []string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	fields := strings.Fields(last)
	i := 0
	for i < len(fields) && i < len(args) && fields[i] == args[i] {
		i++
	}
	return strings.Join(fields[i:], " ")
}
