package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbi-div-b/go-moench-control/internal/detector"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIsWriteAllowed(t *testing.T) {
	testCases := []struct {
		rs   detector.RunState
		want bool
	}{
		{detector.RunIdle, true},
		{detector.RunWaiting, true},
		{detector.RunStopped, true},
		{detector.RunRunning, false},
		{detector.RunTransmitting, false},
		{detector.RunFinished, false},
		{detector.RunError, false},
	}

	for _, tc := range testCases {
		t.Run(tc.rs.String(), func(t *testing.T) {
			c, h, _ := initController(t, nil)
			h.script(tc.rs)

			got, err := c.IsWriteAllowed(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("IsWriteAllowed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSetters_Apply(t *testing.T) {
	testCases := []struct {
		name  string
		write func(*Controller) error
		param detector.Param
		value string
		check func(Session) bool
	}{
		{
			name:  "exposure",
			write: func(c *Controller) error { return c.SetExposure(context.Background(), 20*time.Millisecond) },
			param: detector.ParamExposure, value: "20000000ns",
			check: func(s Session) bool { return s.Exposure == 20*time.Millisecond },
		},
		{
			name:  "frames",
			write: func(c *Controller) error { return c.SetFrames(context.Background(), 100) },
			param: detector.ParamFrames, value: "100",
			check: func(s Session) bool { return s.Frames == 100 },
		},
		{
			name:  "triggers",
			write: func(c *Controller) error { return c.SetTriggers(context.Background(), 3) },
			param: detector.ParamTriggers, value: "3",
			check: func(s Session) bool { return s.Triggers == 3 },
		},
		{
			name:  "period",
			write: func(c *Controller) error { return c.SetPeriod(context.Background(), time.Millisecond) },
			param: detector.ParamPeriod, value: "1000000ns",
			check: func(s Session) bool { return s.Period == time.Millisecond },
		},
		{
			name:  "delay",
			write: func(c *Controller) error { return c.SetDelay(context.Background(), 0) },
			param: detector.ParamDelay, value: "0ns",
			check: func(s Session) bool { return s.Delay == 0 },
		},
		{
			name:  "timing",
			write: func(c *Controller) error { return c.SetTimingMode(context.Background(), detector.TimingTrigger) },
			param: detector.ParamTiming, value: "trigger",
			check: func(s Session) bool { return s.Timing == detector.TimingTrigger },
		},
		{
			name:  "frame mode",
			write: func(c *Controller) error { return c.SetFrameMode(context.Background(), detector.FramePedestal) },
			param: detector.ParamFrameMode, value: "pedestal",
			check: func(s Session) bool { return s.FrameMode == detector.FramePedestal },
		},
		{
			name:  "detector mode",
			write: func(c *Controller) error { return c.SetDetectorMode(context.Background(), detector.DetectorAnalog) },
			param: detector.ParamDetectorMode, value: "analog",
			check: func(s Session) bool { return s.DetectorMode == detector.DetectorAnalog },
		},
		{
			name:  "file write",
			write: func(c *Controller) error { return c.SetFileWrite(context.Background(), false) },
			param: detector.ParamFileWrite, value: "0",
			check: func(s Session) bool { return !s.FileWrite },
		},
		{
			name:  "high voltage",
			write: func(c *Controller) error { return c.SetHighVoltage(context.Background(), 150) },
			param: detector.ParamHighVoltage, value: "150",
			check: func(s Session) bool { return s.HighVoltage == 150 },
		},
		{
			name:  "stream ip",
			write: func(c *Controller) error { return c.SetStreamIP(context.Background(), "10.0.0.2") },
			param: detector.ParamStreamIP, value: "10.0.0.2",
			check: func(s Session) bool { return s.StreamIP == "10.0.0.2" },
		},
		{
			name:  "stream port",
			write: func(c *Controller) error { return c.SetStreamPort(context.Background(), 50002) },
			param: detector.ParamStreamPort, value: "50002",
			check: func(s Session) bool { return s.StreamPort == 50002 },
		},
		{
			name:  "streaming",
			write: func(c *Controller) error { return c.SetStreaming(context.Background(), true) },
			param: detector.ParamStreaming, value: "1",
			check: func(s Session) bool { return s.Streaming },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, h, _ := initController(t, nil)

			if err := tc.write(c); err != nil {
				t.Fatalf("write: %v", err)
			}
			if got := h.param(tc.param); got != tc.value {
				t.Errorf("%s = %q, want %q", tc.param, got, tc.value)
			}
			if !tc.check(c.Session()) {
				t.Errorf("session not updated: %+v", c.Session())
			}
		})
	}
}

func TestSetters_InvalidValue(t *testing.T) {
	testCases := []struct {
		name  string
		write func(*Controller) error
	}{
		{"exposure zero", func(c *Controller) error { return c.SetExposure(context.Background(), 0) }},
		{"negative delay", func(c *Controller) error { return c.SetDelay(context.Background(), -time.Second) }},
		{"frames zero", func(c *Controller) error { return c.SetFrames(context.Background(), 0) }},
		{"triggers zero", func(c *Controller) error { return c.SetTriggers(context.Background(), 0) }},
		{"timing", func(c *Controller) error { return c.SetTimingMode(context.Background(), "gated") }},
		{"frame mode", func(c *Controller) error { return c.SetFrameMode(context.Background(), "dark") }},
		{"detector mode", func(c *Controller) error { return c.SetDetectorMode(context.Background(), "photon") }},
		{"high voltage low", func(c *Controller) error { return c.SetHighVoltage(context.Background(), 59) }},
		{"high voltage high", func(c *Controller) error { return c.SetHighVoltage(context.Background(), 201) }},
		{"stream ip", func(c *Controller) error { return c.SetStreamIP(context.Background(), "192.168.1") }},
		{"stream port", func(c *Controller) error { return c.SetStreamPort(context.Background(), 0) }},
		{"empty path", func(c *Controller) error { return c.SetFilePath(context.Background(), "") }},
		{"name with separator", func(c *Controller) error { return c.SetFileName(context.Background(), "a/b") }},
		{"negative index", func(c *Controller) error { return c.SetFileIndex(context.Background(), -1) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, h, _ := initController(t, nil)
			before := c.Session()

			err := tc.write(c)
			if !errors.Is(err, ErrInvalidValue) {
				t.Fatalf("error = %v, want ErrInvalidValue", err)
			}
			var werr *WriteError
			if !errors.As(err, &werr) || werr.Reason == "" {
				t.Errorf("error %v carries no reason", err)
			}
			if h.has("set ") {
				t.Errorf("invalid value reached hardware: %v", h.callLog())
			}
			if c.Session() != before {
				t.Error("session mutated")
			}
			if c.State() != detector.StateReady {
				t.Errorf("State() = %v, want READY", c.State())
			}
		})
	}
}

func TestSetters_GatedByRunState(t *testing.T) {
	c, h, _ := initController(t, nil)
	h.script(detector.RunRunning)

	err := c.SetExposure(context.Background(), time.Second)
	if !errors.Is(err, ErrWriteNotAllowed) {
		t.Fatalf("error = %v, want ErrWriteNotAllowed", err)
	}
	if h.param(detector.ParamExposure) != "10ms" {
		t.Error("exposure written while RUNNING")
	}
	if c.State() == detector.StateFault {
		t.Error("rejected write faulted the controller")
	}
}

func TestSetters_GatedBeforeInit(t *testing.T) {
	h := newFakeHandle(t.TempDir())
	c := newTestController(t, h, nil, nil)

	if err := c.SetFrames(context.Background(), 5); !errors.Is(err, ErrWriteNotAllowed) {
		t.Errorf("error = %v, want ErrWriteNotAllowed", err)
	}
}

func TestSetters_GatedDuringRun(t *testing.T) {
	c, h, _ := initController(t, nil)
	h.script(detector.RunIdle, detector.RunRunning)

	if _, err := c.StartAcquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.SetFrames(context.Background(), 5); !errors.Is(err, ErrWriteNotAllowed) {
		t.Errorf("error = %v, want ErrWriteNotAllowed", err)
	}
	if _, err := c.StopAcquire(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestSetters_HardwareRejectFaults(t *testing.T) {
	h := newFakeHandle(t.TempDir())
	b := &fakeBackend{ready: true}
	c := newTestController(t, h, b, nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.mu.Lock()
	h.setErr[detector.ParamExposure] = errors.New("value out of range")
	h.mu.Unlock()

	err := c.SetExposure(context.Background(), time.Second)
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("error = %v, want ErrHardware", err)
	}
	if c.Session().Exposure != 10*time.Millisecond {
		t.Error("session updated after hardware rejection")
	}
	if c.State() != detector.StateFault || b.stops.Load() != 1 {
		t.Errorf("State() = %v stops = %d, want FAULT and teardown", c.State(), b.stops.Load())
	}
}

func TestSetFileIndex_Collision(t *testing.T) {
	ev := &events{}
	c, h, dir := initController(t, ev)
	touch(t, filepath.Join(dir, "run_3.tiff"))
	touch(t, filepath.Join(dir, "run_d0_f0_4.raw"))

	for _, idx := range []int{3, 4} {
		err := c.SetFileIndex(context.Background(), idx)
		if !errors.Is(err, ErrFileExists) {
			t.Errorf("SetFileIndex(%d) error = %v, want ErrFileExists", idx, err)
		}
	}
	if h.param(detector.ParamFileIndex) != "0" || c.Session().FileIndex != 0 {
		t.Error("index mutated by a colliding write")
	}

	if err := c.SetFileIndex(context.Background(), 5); err != nil {
		t.Fatalf("SetFileIndex(5): %v", err)
	}
	if c.Session().FileIndex != 5 || c.NextPath() != filepath.Join(dir, "run_5.tiff") {
		t.Errorf("index = %d next = %q", c.Session().FileIndex, c.NextPath())
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if last := ev.indexes[len(ev.indexes)-1]; last != 5 {
		t.Errorf("last file index callback = %d, want 5", last)
	}
}

func TestSetFileIndex_PedestalCollision(t *testing.T) {
	testCases := []struct {
		mode    detector.FrameMode
		wantErr bool
	}{
		{detector.FrameNewPedestal, true},
		{detector.FramePedestal, true},
		{detector.FrameFrame, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.mode), func(t *testing.T) {
			c, _, dir := initController(t, nil)
			touch(t, filepath.Join(dir, "run_3_ped.tiff"))
			if err := c.SetFrameMode(context.Background(), tc.mode); err != nil {
				t.Fatal(err)
			}

			err := c.SetFileIndex(context.Background(), 3)
			if tc.wantErr {
				if !errors.Is(err, ErrFileExists) {
					t.Errorf("SetFileIndex(3) error = %v, want ErrFileExists", err)
				}
				if c.Session().FileIndex != 0 {
					t.Error("index mutated by a colliding write")
				}
				return
			}
			if err != nil {
				t.Errorf("SetFileIndex(3) error = %v, want nil", err)
			}
		})
	}
}

func TestSetFileName_Collision(t *testing.T) {
	c, h, dir := initController(t, nil)
	touch(t, filepath.Join(dir, "scan_0.tiff"))

	if err := c.SetFileName(context.Background(), "scan"); !errors.Is(err, ErrFileExists) {
		t.Errorf("error = %v, want ErrFileExists", err)
	}
	if h.param(detector.ParamFileName) != "run" {
		t.Error("name mutated by a colliding write")
	}
	if err := c.SetFileName(context.Background(), "dark"); err != nil {
		t.Errorf("SetFileName(dark): %v", err)
	}
}

func TestSetFilePath(t *testing.T) {
	c, h, _ := initController(t, nil)

	busy := t.TempDir()
	touch(t, filepath.Join(busy, "run_d0_f0_0.raw"))
	if err := c.SetFilePath(context.Background(), busy); !errors.Is(err, ErrFileExists) {
		t.Errorf("error = %v, want ErrFileExists", err)
	}

	fresh := filepath.Join(t.TempDir(), "2026", "run7")
	if err := c.SetFilePath(context.Background(), fresh); err != nil {
		t.Fatalf("SetFilePath: %v", err)
	}
	if info, err := os.Stat(fresh); err != nil || !info.IsDir() {
		t.Errorf("directory not created: %v", err)
	}
	if h.param(detector.ParamFilePath) != fresh || c.Session().FilePath != fresh {
		t.Errorf("path not applied")
	}
}

func TestNextPath(t *testing.T) {
	testCases := []struct {
		mode detector.FrameMode
		want string
	}{
		{detector.FrameFrame, "run_0.tiff"},
		{detector.FrameRaw, "run_0.tiff"},
		{detector.FramePedestal, "run_0_ped.tiff"},
		{detector.FrameNewPedestal, "run_0_ped.tiff"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.mode), func(t *testing.T) {
			c, _, dir := initController(t, nil)
			if err := c.SetFrameMode(context.Background(), tc.mode); err != nil {
				t.Fatal(err)
			}
			if got := c.NextPath(); got != filepath.Join(dir, tc.want) {
				t.Errorf("NextPath() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	err := error(&WriteError{Param: "findex", Reason: "output exists: /data/run_0.tiff", Err: ErrFileExists})
	if !errors.Is(err, ErrFileExists) {
		t.Error("WriteError does not unwrap")
	}
	if want := "write findex rejected: output exists: /data/run_0.tiff"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
