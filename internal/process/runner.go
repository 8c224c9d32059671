// Package process runs and locates the OS processes that make up the
// detector backend.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"

	"github.com/mbi-div-b/go-moench-control/internal/logging"
)

// Command describes one program invocation. Arguments are passed to the
// program as-is; no shell is involved.
type Command struct {
	Name       string // logical name used in logs
	Path       string
	Args       []string
	Privileged bool
}

// String renders the command for logs.
func (c Command) String() string {
	parts := append([]string{c.Path}, c.Args...)
	s := strings.Join(parts, " ")
	if c.Privileged {
		s = "sudo " + s
	}
	return s
}

// Executor runs commands on behalf of the supervisor and the detector handle.
type Executor interface {
	// Run executes the command to completion.
	Run(ctx context.Context, c Command) error

	// Output executes the command and returns its stdout.
	Output(ctx context.Context, c Command) ([]byte, error)

	// Start launches a long-running command and returns without waiting.
	Start(ctx context.Context, c Command) (*Spawned, error)
}

// ExitError carries the exit status and captured stderr of a failed command.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: exit %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Spawned is a started background process.
type Spawned struct {
	PID    int
	Output *logging.OutputHandler
	done   chan struct{}
	err    error
}

// Done is closed once the process has exited and been reaped.
func (s *Spawned) Done() <-chan struct{} { return s.done }

// Err returns the wait error once Done is closed.
func (s *Spawned) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// SudoExecutor runs unprivileged commands directly and privileged commands
// through sudo, feeding the credential on stdin.
type SudoExecutor struct {
	SudoPath   string
	Credential string
	Logger     *slog.Logger
	Verbose    bool
}

// NewSudoExecutor creates an executor using the given credential.
func NewSudoExecutor(credential string, logger *slog.Logger, verbose bool) *SudoExecutor {
	return &SudoExecutor{
		SudoPath:   "sudo",
		Credential: credential,
		Logger:     logger,
		Verbose:    verbose,
	}
}

// command builds the exec.Cmd and the stdin it must be fed.
func (e *SudoExecutor) command(ctx context.Context, c Command, bound bool) (*exec.Cmd, string) {
	path, args := c.Path, c.Args
	stdin := ""
	if c.Privileged {
		args = append([]string{"-S", "-p", "", "--", c.Path}, c.Args...)
		if e.Credential == "" {
			// Never block on a password prompt
			args = append([]string{"-n"}, args...)
		} else {
			stdin = e.Credential + "\n"
		}
		path = e.SudoPath
	}

	var cmd *exec.Cmd
	if bound {
		cmd = exec.CommandContext(ctx, path, args...)
	} else {
		cmd = exec.Command(path, args...)
	}
	return cmd, stdin
}

// Run executes c to completion.
func (e *SudoExecutor) Run(ctx context.Context, c Command) error {
	_, err := e.Output(ctx, c)
	return err
}

// Output executes c and returns its stdout.
func (e *SudoExecutor) Output(ctx context.Context, c Command) ([]byte, error) {
	cmd, stdin := e.command(ctx, c, true)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.Logger.Debug("command_run", "name", c.Name, "command", c.String())

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &ExitError{
			Command:  c.String(),
			ExitCode: exitCode(err),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return stdout.Bytes(), nil
}

// Start launches c in its own process group so it outlives terminal
// signals sent to the orchestrator. Output is scanned into the logs.
func (e *SudoExecutor) Start(ctx context.Context, c Command) (*Spawned, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd, stdin := e.command(ctx, c, false)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}

	sp := &Spawned{
		PID:    cmd.Process.Pid,
		Output: logging.NewOutputHandler(c.Name, e.Logger, e.Verbose),
		done:   make(chan struct{}),
	}

	go sp.Output.HandleReader(pr)
	go func() {
		sp.err = cmd.Wait()
		pw.Close()
		close(sp.done)
		e.Logger.Info("process_exited",
			"name", c.Name,
			"pid", sp.PID,
			"exit_code", exitCode(sp.err),
		)
	}()

	e.Logger.Info("process_started", "name", c.Name, "pid", sp.PID, "privileged", c.Privileged)
	return sp, nil
}

// exitCode extracts the exit code from an error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
