package detector

import (
	"testing"
	"time"
)

func TestParseRunState(t *testing.T) {
	testCases := []struct {
		input   string
		want    RunState
		wantErr bool
	}{
		{"idle", RunIdle, false},
		{"IDLE", RunIdle, false},
		{"waiting", RunWaiting, false},
		{"running", RunRunning, false},
		{"transmitting", RunTransmitting, false},
		{"finished", RunFinished, false},
		{"RUN_FINISHED", RunFinished, false},
		{"stopped", RunStopped, false},
		{"error", RunError, false},
		{" idle\n", RunIdle, false},
		{"busy", 0, true},
		{"", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseRunState(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseRunState(%q) err = %v", tc.input, err)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("ParseRunState(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestMapRunState(t *testing.T) {
	testCases := []struct {
		state RunState
		want  DeviceState
	}{
		{RunIdle, StateReady},
		{RunFinished, StateReady},
		{RunStopped, StateReady},
		{RunWaiting, StateBusy},
		{RunRunning, StateBusy},
		{RunTransmitting, StateBusy},
		{RunError, StateFault},
		{RunState(42), StateUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.state.String(), func(t *testing.T) {
			if got := MapRunState(tc.state); got != tc.want {
				t.Errorf("MapRunState(%v) = %v, want %v", tc.state, got, tc.want)
			}
		})
	}
}

func TestRunState_Predicates(t *testing.T) {
	for _, s := range []RunState{RunIdle, RunFinished, RunStopped} {
		if !s.Settled() || s.InFlight() {
			t.Errorf("%v should be settled", s)
		}
	}
	for _, s := range []RunState{RunRunning, RunTransmitting} {
		if s.Settled() || !s.InFlight() {
			t.Errorf("%v should be in flight", s)
		}
	}
	if RunWaiting.Settled() || RunWaiting.InFlight() || RunError.Settled() {
		t.Error("WAITING and ERROR are neither settled nor in flight")
	}
}

func TestDeviceState_String(t *testing.T) {
	want := map[DeviceState]string{
		StateInit:       "INIT",
		StateReady:      "READY",
		StateBusy:       "BUSY",
		StateFault:      "FAULT",
		StateUnknown:    "UNKNOWN",
		DeviceState(99): "UNKNOWN",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), name)
		}
	}
}

func TestModes(t *testing.T) {
	if _, err := ParseFrameMode("newPedestal"); err != nil {
		t.Error(err)
	}
	if _, err := ParseFrameMode("NEWPEDESTAL"); err == nil {
		t.Error("frame modes are case-sensitive")
	}
	if !FrameNewPedestal.IsPedestal() || !FramePedestal.IsPedestal() || FrameFrame.IsPedestal() {
		t.Error("IsPedestal mismatch")
	}
	if _, err := ParseDetectorMode("interpolating"); err != nil {
		t.Error(err)
	}
	if _, err := ParseDetectorMode("photon"); err == nil {
		t.Error("expected error")
	}
	if m, err := ParseTimingMode("external"); err != nil || m != TimingTrigger {
		t.Errorf("ParseTimingMode(external) = %q, %v", m, err)
	}
	if m, err := ParseTimingMode("internal"); err != nil || m != TimingAuto {
		t.Errorf("ParseTimingMode(internal) = %q, %v", m, err)
	}
}

func TestParseDuration(t *testing.T) {
	testCases := []struct {
		input string
		want  time.Duration
	}{
		{"10ms", 10 * time.Millisecond},
		{"10 ms", 10 * time.Millisecond},
		{"0.01s", 10 * time.Millisecond},
		{"0.01", 10 * time.Millisecond},
		{"25ns", 25 * time.Nanosecond},
		{"600us", 600 * time.Microsecond},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseDuration(tc.input)
			if err != nil || got != tc.want {
				t.Errorf("ParseDuration(%q) = %v, %v; want %v", tc.input, got, err, tc.want)
			}
		})
	}

	if _, err := ParseDuration(""); err == nil {
		t.Error("expected error for empty input")
	}
	if got := FormatDuration(10 * time.Millisecond); got != "10000000ns" {
		t.Errorf("FormatDuration = %q", got)
	}
}
