package detector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Param names a detector or receiver parameter as the sls tools spell it.
type Param string

const (
	ParamExposure     Param = "exptime"
	ParamFrames       Param = "frames"
	ParamTriggers     Param = "triggers"
	ParamPeriod       Param = "period"
	ParamDelay        Param = "delay"
	ParamTiming       Param = "timing"
	ParamFilePath     Param = "fpath"
	ParamFileName     Param = "fname"
	ParamFileIndex    Param = "findex"
	ParamFileWrite    Param = "fwrite"
	ParamFrameMode    Param = "rx_jsonpara frameMode"
	ParamDetectorMode Param = "rx_jsonpara detectorMode"
	ParamStreaming    Param = "rx_zmqstream"
	ParamStreamIP     Param = "rx_zmqip"
	ParamStreamPort   Param = "rx_zmqport"
	ParamHighVoltage  Param = "highvoltage"
)

// Handle is the vendor driver as seen by the controller. Any call may
// fail with a connectivity error.
type Handle interface {
	Status(ctx context.Context) (RunState, error)
	Get(ctx context.Context, p Param) (string, error)
	Set(ctx context.Context, p Param, value string) error
	LoadConfig(ctx context.Context, path string) error
	StartReceiver(ctx context.Context) error
	StopReceiver(ctx context.Context) error
	StartDetector(ctx context.Context) error
	StopDetector(ctx context.Context) error
}

// FormatDuration renders d in the unit syntax the sls tools accept.
func FormatDuration(d time.Duration) string {
	return strconv.FormatInt(d.Nanoseconds(), 10) + "ns"
}

// ParseDuration reads a time value as printed by sls_detector_get,
// e.g. "10ms", "0.01s" or "10 ms".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		s += "s"
	}
	return time.ParseDuration(s)
}

// FormatBool renders b as the sls tools expect.
func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ParseBool reads a flag printed as 0/1 or true/false.
func ParseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}

// ParseInt reads an integer parameter.
func ParseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
