package detector

import "fmt"

// FrameMode is the receiver-side processing mode sent as rx_jsonpara frameMode.
type FrameMode string

const (
	FrameRaw         FrameMode = "raw"
	FrameFrame       FrameMode = "frame"
	FramePedestal    FrameMode = "pedestal"
	FrameNewPedestal FrameMode = "newPedestal"
	FrameNone        FrameMode = "noFrameMode"
)

// IsPedestal reports whether runs in this mode produce pedestal output.
func (m FrameMode) IsPedestal() bool {
	return m == FramePedestal || m == FrameNewPedestal
}

// ParseFrameMode validates a frame mode name.
func ParseFrameMode(s string) (FrameMode, error) {
	switch m := FrameMode(s); m {
	case FrameRaw, FrameFrame, FramePedestal, FrameNewPedestal, FrameNone:
		return m, nil
	}
	return "", fmt.Errorf("unknown frame mode %q", s)
}

// DetectorMode is the receiver-side analysis mode sent as rx_jsonpara detectorMode.
type DetectorMode string

const (
	DetectorCounting      DetectorMode = "counting"
	DetectorAnalog        DetectorMode = "analog"
	DetectorInterpolating DetectorMode = "interpolating"
	DetectorNone          DetectorMode = "noDetectorMode"
)

// ParseDetectorMode validates a detector mode name.
func ParseDetectorMode(s string) (DetectorMode, error) {
	switch m := DetectorMode(s); m {
	case DetectorCounting, DetectorAnalog, DetectorInterpolating, DetectorNone:
		return m, nil
	}
	return "", fmt.Errorf("unknown detector mode %q", s)
}

// TimingMode selects internal or external triggering.
type TimingMode string

const (
	TimingAuto    TimingMode = "auto"    // internal
	TimingTrigger TimingMode = "trigger" // external
)

// ParseTimingMode validates a timing mode name. "internal" and
// "external" are accepted as aliases.
func ParseTimingMode(s string) (TimingMode, error) {
	switch s {
	case "auto", "internal":
		return TimingAuto, nil
	case "trigger", "external":
		return TimingTrigger, nil
	}
	return "", fmt.Errorf("unknown timing mode %q", s)
}
