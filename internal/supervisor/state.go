// Package supervisor brings the detector backend processes up and down.
package supervisor

import (
	"time"

	"github.com/mbi-div-b/go-moench-control/internal/process"
)

// State represents the supervisor's view of the backend.
type State int

const (
	// StateStopped is the initial state and the state after Stop.
	StateStopped State = iota

	// StateStarting indicates Start is spawning processes.
	StateStarting

	// StateReady indicates the last readiness check found every required process.
	StateReady

	// StateDegraded indicates the last readiness check missed a required process.
	StateDegraded
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// IsUp returns true if the backend is believed to be running.
func (s State) IsUp() bool {
	return s == StateReady
}

// ProcessHandle describes one backend process. Alive is a point-in-time
// observation from the process table, not a monitored value.
type ProcessHandle struct {
	Name       string
	Command    process.Command
	Privileged bool
	PIDs       []int
	Alive      bool
	CheckedAt  time.Time
	// RecentOutput holds the last lines printed, if this supervisor spawned it.
	RecentOutput []string
}
