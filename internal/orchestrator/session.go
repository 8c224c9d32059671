package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbi-div-b/go-moench-control/internal/config"
	"github.com/mbi-div-b/go-moench-control/internal/detector"
)

// High voltage limits in volts.
const (
	MinHighVoltage = 60
	MaxHighVoltage = 200
)

// Session mirrors the acquisition parameters held by the hardware. It is
// loaded at Init and updated by the controller's writes.
type Session struct {
	Exposure     time.Duration
	Delay        time.Duration
	Period       time.Duration
	Frames       int
	Triggers     int
	Timing       detector.TimingMode
	FrameMode    detector.FrameMode
	DetectorMode detector.DetectorMode
	FilePath     string
	FileName     string
	FileIndex    int
	FileWrite    bool
	HighVoltage  int
	Streaming    bool
	StreamIP     string
	StreamPort   int
}

// WriteError reports a rejected session write. The session is unchanged.
type WriteError struct {
	Param  string
	Reason string
	Err    error // ErrWriteNotAllowed, ErrFileExists, ErrInvalidValue or ErrHardware
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s rejected: %s", e.Param, e.Reason)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// writable reports whether session parameters may change in run state rs.
func writable(rs detector.RunState) bool {
	return rs == detector.RunIdle || rs == detector.RunWaiting || rs == detector.RunStopped
}

// IsWriteAllowed queries the hardware and reports whether session writes
// are accepted now.
func (c *Controller) IsWriteAllowed(ctx context.Context) (bool, error) {
	rs, err := c.handle.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: status: %v", ErrHardware, err)
	}
	c.observeRunState(rs)
	return writable(rs), nil
}

// Session returns a copy of the current session.
func (c *Controller) Session() Session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.session
}

// LastPath returns the path written by the last file-writing run.
func (c *Controller) LastPath() string {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.lastPath
}

// NextPath returns the image path the next run will write.
func (c *Controller) NextPath() string {
	return c.nextPath(c.Session())
}

func (c *Controller) nextPath(s Session) string {
	return imagePath(s.FilePath, s.FileName, s.FileIndex, c.cfg.OutputExt, s.FrameMode.IsPedestal())
}

func imagePath(dir, name string, index int, ext string, pedestal bool) string {
	suffix := ""
	if pedestal {
		suffix = "_ped"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s.%s", name, index, suffix, ext))
}

// rawPath is the first raw file the receiver writes for an acquisition.
func rawPath(dir, name string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_d0_f0_%d.raw", name, index))
}

// collision returns the first existing output for {dir, name, index}.
// pedestal selects the image name a pedestal run writes.
func (c *Controller) collision(dir, name string, index int, pedestal bool) (string, bool) {
	for _, p := range []string{
		imagePath(dir, name, index, c.cfg.OutputExt, pedestal),
		rawPath(dir, name, index),
	} {
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

func (c *Controller) updateSession(apply func(*Session)) {
	c.sessMu.Lock()
	apply(&c.session)
	c.sessMu.Unlock()
}

func (c *Controller) notifyFileIndex() {
	if c.callbacks.OnFileIndex == nil {
		return
	}
	c.sessMu.RLock()
	index, last := c.session.FileIndex, c.lastPath
	c.sessMu.RUnlock()
	c.callbacks.OnFileIndex(index, last)
}

// loadSession reads every session parameter from the hardware. Receiver
// side parameters the backend may not expose are optional.
func (c *Controller) loadSession(ctx context.Context) (Session, error) {
	var s Session
	var err error

	get := func(p detector.Param) (string, error) {
		v, err := c.handle.Get(ctx, p)
		if err != nil {
			return "", fmt.Errorf("%w: read %s: %v", ErrHardware, p, err)
		}
		return v, nil
	}
	parse := func(p detector.Param, v string, perr error) error {
		if perr != nil {
			return fmt.Errorf("%w: %s = %q: %v", ErrHardware, p, v, perr)
		}
		return nil
	}

	required := []struct {
		param detector.Param
		set   func(string) error
	}{
		{detector.ParamExposure, func(v string) error { s.Exposure, err = detector.ParseDuration(v); return err }},
		{detector.ParamPeriod, func(v string) error { s.Period, err = detector.ParseDuration(v); return err }},
		{detector.ParamFrames, func(v string) error { s.Frames, err = detector.ParseInt(v); return err }},
		{detector.ParamTriggers, func(v string) error { s.Triggers, err = detector.ParseInt(v); return err }},
		{detector.ParamTiming, func(v string) error { s.Timing, err = detector.ParseTimingMode(v); return err }},
		{detector.ParamFilePath, func(v string) error { s.FilePath = v; return nil }},
		{detector.ParamFileName, func(v string) error { s.FileName = v; return nil }},
		{detector.ParamFileIndex, func(v string) error { s.FileIndex, err = detector.ParseInt(v); return err }},
		{detector.ParamFileWrite, func(v string) error { s.FileWrite, err = detector.ParseBool(v); return err }},
	}
	for _, r := range required {
		v, gerr := get(r.param)
		if gerr != nil {
			return Session{}, gerr
		}
		if perr := parse(r.param, v, r.set(v)); perr != nil {
			return Session{}, perr
		}
	}

	optional := []struct {
		param detector.Param
		set   func(string) error
	}{
		{detector.ParamDelay, func(v string) error { s.Delay, err = detector.ParseDuration(v); return err }},
		{detector.ParamFrameMode, func(v string) error { s.FrameMode, err = detector.ParseFrameMode(v); return err }},
		{detector.ParamDetectorMode, func(v string) error { s.DetectorMode, err = detector.ParseDetectorMode(v); return err }},
		{detector.ParamHighVoltage, func(v string) error { s.HighVoltage, err = detector.ParseInt(v); return err }},
		{detector.ParamStreaming, func(v string) error { s.Streaming, err = detector.ParseBool(v); return err }},
		{detector.ParamStreamIP, func(v string) error { s.StreamIP = v; return nil }},
		{detector.ParamStreamPort, func(v string) error { s.StreamPort, err = detector.ParseInt(v); return err }},
	}
	for _, o := range optional {
		v, gerr := c.handle.Get(ctx, o.param)
		if gerr != nil {
			c.logger.Warn("session_parameter_unavailable", "param", string(o.param), "error", gerr)
			continue
		}
		if perr := o.set(v); perr != nil {
			c.logger.Warn("session_parameter_unparsed", "param", string(o.param), "value", v, "error", perr)
		}
	}
	return s, nil
}

// checkWritable rejects writes unless the controller is initialized, no
// worker is running and the hardware run state allows changes.
func (c *Controller) checkWritable(ctx context.Context, p detector.Param) error {
	switch st := c.State(); st {
	case detector.StateFault, detector.StateInit:
		return &WriteError{Param: string(p), Reason: "controller is " + st.String(), Err: ErrWriteNotAllowed}
	}
	if c.inFlight() {
		return &WriteError{Param: string(p), Reason: "acquisition in progress", Err: ErrWriteNotAllowed}
	}

	rs, err := c.handle.Status(ctx)
	if err != nil {
		werr := &WriteError{Param: string(p), Reason: "status: " + err.Error(), Err: ErrHardware}
		c.fault(ctx, werr)
		return werr
	}
	c.observeRunState(rs)
	if !writable(rs) {
		return &WriteError{Param: string(p), Reason: "hardware run state is " + rs.String(), Err: ErrWriteNotAllowed}
	}
	return nil
}

// write applies one gated parameter write. check runs after the gate
// against the current session and may reject the value.
func (c *Controller) write(ctx context.Context, p detector.Param, value string, check func(Session) error, apply func(*Session)) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if err := c.checkWritable(ctx, p); err != nil {
		c.logger.Warn("session_write_rejected", "param", string(p), "error", err)
		return err
	}
	if check != nil {
		if err := check(c.Session()); err != nil {
			c.logger.Warn("session_write_rejected", "param", string(p), "error", err)
			return err
		}
	}

	if err := c.handle.Set(ctx, p, value); err != nil {
		werr := &WriteError{Param: string(p), Reason: err.Error(), Err: ErrHardware}
		c.fault(ctx, werr)
		return werr
	}
	c.updateSession(apply)
	c.logger.Info("session_parameter_written", "param", string(p), "value", value)
	return nil
}

func invalid(p detector.Param, format string, args ...any) error {
	return &WriteError{Param: string(p), Reason: fmt.Sprintf(format, args...), Err: ErrInvalidValue}
}

func exists(p detector.Param, path string) error {
	return &WriteError{Param: string(p), Reason: "output exists: " + path, Err: ErrFileExists}
}

// SetExposure sets the exposure time.
func (c *Controller) SetExposure(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return invalid(detector.ParamExposure, "must be positive, got %s", d)
	}
	return c.write(ctx, detector.ParamExposure, detector.FormatDuration(d), nil,
		func(s *Session) { s.Exposure = d })
}

// SetDelay sets the delay after trigger.
func (c *Controller) SetDelay(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return invalid(detector.ParamDelay, "must not be negative, got %s", d)
	}
	return c.write(ctx, detector.ParamDelay, detector.FormatDuration(d), nil,
		func(s *Session) { s.Delay = d })
}

// SetPeriod sets the frame period.
func (c *Controller) SetPeriod(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return invalid(detector.ParamPeriod, "must not be negative, got %s", d)
	}
	return c.write(ctx, detector.ParamPeriod, detector.FormatDuration(d), nil,
		func(s *Session) { s.Period = d })
}

// SetFrames sets the frame count per trigger.
func (c *Controller) SetFrames(ctx context.Context, n int) error {
	if n < 1 {
		return invalid(detector.ParamFrames, "must be at least 1, got %d", n)
	}
	return c.write(ctx, detector.ParamFrames, fmt.Sprint(n), nil,
		func(s *Session) { s.Frames = n })
}

// SetTriggers sets the trigger count.
func (c *Controller) SetTriggers(ctx context.Context, n int) error {
	if n < 1 {
		return invalid(detector.ParamTriggers, "must be at least 1, got %d", n)
	}
	return c.write(ctx, detector.ParamTriggers, fmt.Sprint(n), nil,
		func(s *Session) { s.Triggers = n })
}

// SetTimingMode selects internal or external triggering.
func (c *Controller) SetTimingMode(ctx context.Context, m detector.TimingMode) error {
	if _, err := detector.ParseTimingMode(string(m)); err != nil {
		return invalid(detector.ParamTiming, "%v", err)
	}
	return c.write(ctx, detector.ParamTiming, string(m), nil,
		func(s *Session) { s.Timing = m })
}

// SetFrameMode sets the receiver frame mode.
func (c *Controller) SetFrameMode(ctx context.Context, m detector.FrameMode) error {
	if _, err := detector.ParseFrameMode(string(m)); err != nil {
		return invalid(detector.ParamFrameMode, "%v", err)
	}
	return c.write(ctx, detector.ParamFrameMode, string(m), nil,
		func(s *Session) { s.FrameMode = m })
}

// SetDetectorMode sets the receiver detector mode.
func (c *Controller) SetDetectorMode(ctx context.Context, m detector.DetectorMode) error {
	if _, err := detector.ParseDetectorMode(string(m)); err != nil {
		return invalid(detector.ParamDetectorMode, "%v", err)
	}
	return c.write(ctx, detector.ParamDetectorMode, string(m), nil,
		func(s *Session) { s.DetectorMode = m })
}

// SetFilePath sets the output directory, creating it if needed. The
// directory must not already hold output for the current name and index.
func (c *Controller) SetFilePath(ctx context.Context, dir string) error {
	if dir == "" {
		return invalid(detector.ParamFilePath, "must not be empty")
	}
	check := func(s Session) error {
		if p, ok := c.collision(dir, s.FileName, s.FileIndex, s.FrameMode.IsPedestal()); ok {
			return exists(detector.ParamFilePath, p)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return invalid(detector.ParamFilePath, "create directory: %v", err)
		}
		return nil
	}
	return c.write(ctx, detector.ParamFilePath, dir, check,
		func(s *Session) { s.FilePath = dir })
}

// SetFileName sets the output base name.
func (c *Controller) SetFileName(ctx context.Context, name string) error {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) {
		return invalid(detector.ParamFileName, "must be a non-empty base name, got %q", name)
	}
	check := func(s Session) error {
		if p, ok := c.collision(s.FilePath, name, s.FileIndex, s.FrameMode.IsPedestal()); ok {
			return exists(detector.ParamFileName, p)
		}
		return nil
	}
	return c.write(ctx, detector.ParamFileName, name, check,
		func(s *Session) { s.FileName = name })
}

// SetFileIndex sets the output file index.
func (c *Controller) SetFileIndex(ctx context.Context, index int) error {
	if index < 0 {
		return invalid(detector.ParamFileIndex, "must not be negative, got %d", index)
	}
	check := func(s Session) error {
		if p, ok := c.collision(s.FilePath, s.FileName, index, s.FrameMode.IsPedestal()); ok {
			return exists(detector.ParamFileIndex, p)
		}
		return nil
	}
	err := c.write(ctx, detector.ParamFileIndex, fmt.Sprint(index), check,
		func(s *Session) { s.FileIndex = index })
	if err == nil {
		c.notifyFileIndex()
	}
	return err
}

// SetFileWrite enables or disables file writing.
func (c *Controller) SetFileWrite(ctx context.Context, on bool) error {
	return c.write(ctx, detector.ParamFileWrite, detector.FormatBool(on), nil,
		func(s *Session) { s.FileWrite = on })
}

// SetHighVoltage sets the sensor bias voltage.
func (c *Controller) SetHighVoltage(ctx context.Context, volts int) error {
	if volts < MinHighVoltage || volts > MaxHighVoltage {
		return invalid(detector.ParamHighVoltage, "must be in %d..%d V, got %d", MinHighVoltage, MaxHighVoltage, volts)
	}
	return c.write(ctx, detector.ParamHighVoltage, fmt.Sprint(volts), nil,
		func(s *Session) { s.HighVoltage = volts })
}

// SetStreaming enables or disables the frame stream outside of runs.
func (c *Controller) SetStreaming(ctx context.Context, on bool) error {
	return c.write(ctx, detector.ParamStreaming, detector.FormatBool(on), nil,
		func(s *Session) { s.Streaming = on })
}

// SetStreamIP sets the frame stream publisher address.
func (c *Controller) SetStreamIP(ctx context.Context, ip string) error {
	if err := config.ValidateIPv4(ip); err != nil {
		return invalid(detector.ParamStreamIP, "%v", err)
	}
	return c.write(ctx, detector.ParamStreamIP, ip, nil,
		func(s *Session) { s.StreamIP = ip })
}

// SetStreamPort sets the frame stream publisher port.
func (c *Controller) SetStreamPort(ctx context.Context, port int) error {
	if port < 1 || port > 65535 {
		return invalid(detector.ParamStreamPort, "must be in 1..65535, got %d", port)
	}
	return c.write(ctx, detector.ParamStreamPort, fmt.Sprint(port), nil,
		func(s *Session) { s.StreamPort = port })
}
