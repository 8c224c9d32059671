package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var dottedQuad = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	// Backend variant must be valid
	if cfg.Backend != BackendHardware && cfg.Backend != BackendSimulated {
		errs = append(errs, ValidationError{
			Field:   "backend",
			Message: fmt.Sprintf("must be %q or %q (got %q)", BackendHardware, BackendSimulated, cfg.Backend),
		})
	}

	if cfg.ReceiverBinary == "" {
		errs = append(errs, ValidationError{
			Field:   "receiver_binary",
			Message: "must not be empty",
		})
	}

	if cfg.Backend == BackendSimulated && cfg.SimulatorBinary == "" {
		errs = append(errs, ValidationError{
			Field:   "simulator_binary",
			Message: "required for the simulated backend",
		})
	}

	if cfg.ConfigFile() == "" {
		errs = append(errs, ValidationError{
			Field:   cfg.Backend + "_config",
			Message: "detector config file is required",
		})
	}

	// Ports
	for _, p := range []struct {
		field string
		port  int
	}{
		{"receiver_port", cfg.ReceiverPort},
		{"processing_rx_port", cfg.ProcessingRXPort},
		{"processing_tx_port", cfg.ProcessingTXPort},
		{"stream_port", cfg.StreamPort},
	} {
		if p.port < 1 || p.port > 65535 {
			errs = append(errs, ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("must be in 1..65535 (got %d)", p.port),
			})
		}
	}

	// IPs
	for _, ip := range []struct {
		field string
		addr  string
	}{
		{"processing_rx_ip", cfg.ProcessingRXIP},
		{"processing_tx_ip", cfg.ProcessingTXIP},
		{"stream_ip", cfg.StreamIP},
	} {
		if err := ValidateIPv4(ip.addr); err != nil {
			errs = append(errs, ValidationError{
				Field:   ip.field,
				Message: err.Error(),
			})
		}
	}

	if cfg.ProcessingBinary != "" && cfg.ProcessingCores < 1 {
		errs = append(errs, ValidationError{
			Field:   "processing_cores",
			Message: "must be at least 1",
		})
	}

	// Readiness bound is mandatory
	if cfg.ReadyAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "ready_attempts",
			Message: "must be at least 1",
		})
	}
	if cfg.ProbeAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "probe_attempts",
			Message: "must be at least 1",
		})
	}

	// Intervals must be positive
	for _, d := range []struct {
		field string
		ok    bool
	}{
		{"ready_interval", cfg.ReadyInterval > 0},
		{"poll_interval", cfg.PollInterval > 0},
		{"frame_poll", cfg.FramePoll > 0},
		{"output_wait_step", cfg.OutputWaitStep > 0},
		{"probe_backoff_start", cfg.ProbeBackoffStart > 0},
	} {
		if !d.ok {
			errs = append(errs, ValidationError{
				Field:   d.field,
				Message: "must be positive",
			})
		}
	}
	if cfg.ProbeBackoffMax < cfg.ProbeBackoffStart {
		errs = append(errs, ValidationError{
			Field:   "probe_backoff_max",
			Message: "must be >= probe_backoff_start",
		})
	}
	if cfg.SettleInterval < 0 || cfg.ConfigPushDelay < 0 || cfg.SettleDelay < 0 || cfg.StopWait < 0 {
		errs = append(errs, ValidationError{
			Field:   "settle_interval",
			Message: "delays must not be negative",
		})
	}

	if cfg.PedestalFrames < 1 {
		errs = append(errs, ValidationError{
			Field:   "pedestal_frames",
			Message: "must be at least 1",
		})
	}
	if cfg.StreamDepth < 1 {
		errs = append(errs, ValidationError{
			Field:   "stream_depth",
			Message: "must be at least 1",
		})
	}
	if cfg.Acquire < 0 || cfg.Frames < 0 {
		errs = append(errs, ValidationError{
			Field:   "acquire",
			Message: "counts must not be negative",
		})
	}

	if cfg.FileWrite && cfg.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "file_path",
			Message: "required when file_write is enabled",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateIPv4 checks that ip is a dotted-quad IPv4 address.
func ValidateIPv4(ip string) error {
	if !dottedQuad.MatchString(ip) {
		return fmt.Errorf("must be a dotted-quad IPv4 address (got %q)", ip)
	}
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("octet out of range in %q", ip)
	}
	return nil
}
