// Package detector describes the hardware handle the orchestrator drives
// and provides an implementation backed by the slsDetectorPackage tools.
package detector

import (
	"fmt"
	"strings"
)

// RunState is the hardware driver's own acquisition status.
type RunState int

const (
	RunIdle RunState = iota
	RunWaiting
	RunRunning
	RunTransmitting
	RunFinished
	RunStopped
	RunError
)

// String returns the driver name for the run state.
func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "IDLE"
	case RunWaiting:
		return "WAITING"
	case RunRunning:
		return "RUNNING"
	case RunTransmitting:
		return "TRANSMITTING"
	case RunFinished:
		return "RUN_FINISHED"
	case RunStopped:
		return "STOPPED"
	case RunError:
		return "ERROR"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// Settled reports whether the hardware has come to rest after a run.
func (s RunState) Settled() bool {
	return s == RunIdle || s == RunFinished || s == RunStopped
}

// InFlight reports whether an acquisition is running on the hardware.
func (s RunState) InFlight() bool {
	return s == RunRunning || s == RunTransmitting
}

// ParseRunState accepts both the driver's enum names and the lower-case
// words printed by sls_detector_get.
func ParseRunState(s string) (RunState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IDLE":
		return RunIdle, nil
	case "WAITING":
		return RunWaiting, nil
	case "RUNNING":
		return RunRunning, nil
	case "TRANSMITTING":
		return RunTransmitting, nil
	case "RUN_FINISHED", "FINISHED":
		return RunFinished, nil
	case "STOPPED":
		return RunStopped, nil
	case "ERROR":
		return RunError, nil
	default:
		return 0, fmt.Errorf("unknown run state %q", s)
	}
}

// DeviceState is the externally visible controller state.
type DeviceState int

const (
	StateInit DeviceState = iota
	StateReady
	StateBusy
	StateFault
	StateUnknown
)

// String returns a human-readable name for the state.
func (s DeviceState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateBusy:
		return "BUSY"
	case StateFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// MapRunState maps a hardware run state to the controller state.
// WAITING means the detector is armed for a trigger, so it counts as BUSY.
func MapRunState(s RunState) DeviceState {
	switch s {
	case RunIdle, RunFinished, RunStopped:
		return StateReady
	case RunWaiting, RunRunning, RunTransmitting:
		return StateBusy
	case RunError:
		return StateFault
	default:
		return StateUnknown
	}
}
