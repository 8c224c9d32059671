// Package config provides configuration management for go-moench-control.
package config

import "time"

// Backend variants.
const (
	BackendHardware  = "hardware"
	BackendSimulated = "simulated"
)

// Config holds all configuration options for the orchestrator.
type Config struct {
	// Backend
	Backend           string        `yaml:"backend"` // hardware, simulated
	ExecutablesPath   string        `yaml:"executables_path"`
	ReceiverBinary    string        `yaml:"receiver_binary"`
	SimulatorBinary   string        `yaml:"simulator_binary"`
	ProcessingBinary  string        `yaml:"processing_binary"` // empty = no processing process
	ReceiverPort      int           `yaml:"receiver_port"`
	ProcessingRXIP    string        `yaml:"processing_rx_ip"`
	ProcessingRXPort  int           `yaml:"processing_rx_port"`
	ProcessingTXIP    string        `yaml:"processing_tx_ip"`
	ProcessingTXPort  int           `yaml:"processing_tx_port"`
	ProcessingCores   int           `yaml:"processing_cores"`
	HardwareConfig    string        `yaml:"hardware_config"`
	SimulatedConfig   string        `yaml:"simulated_config"`
	NetworkInterface  string        `yaml:"network_interface"` // empty = skip interface bring-up
	CredentialEnv     string        `yaml:"credential_env"`
	CredentialFile    string        `yaml:"credential_file"`
	SettleInterval    time.Duration `yaml:"settle_interval"`
	ConfigPushDelay   time.Duration `yaml:"config_push_delay"`
	ReadyAttempts     int           `yaml:"ready_attempts"`
	ReadyInterval     time.Duration `yaml:"ready_interval"`
	RestartBackend    bool          `yaml:"restart_backend"`
	ProbeAttempts     int           `yaml:"probe_attempts"`
	ProbeBackoffStart time.Duration `yaml:"probe_backoff_start"`
	ProbeBackoffMax   time.Duration `yaml:"probe_backoff_max"`

	// Acquisition
	PollInterval    time.Duration `yaml:"poll_interval"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	StopWait        time.Duration `yaml:"stop_wait"`
	PedestalFrames  int           `yaml:"pedestal_frames"`
	OutputExt       string        `yaml:"output_ext"`
	OutputWaitTries int           `yaml:"output_wait_tries"`
	OutputWaitStep  time.Duration `yaml:"output_wait_step"`
	Acquire         int           `yaml:"acquire"`  // scripted acquisitions on startup
	Pedestal        bool          `yaml:"pedestal"` // run a pedestal before scripted acquisitions
	Duration        time.Duration `yaml:"duration"` // 0 = forever

	// Session defaults applied after init (zero = keep hardware value)
	Exposure  time.Duration `yaml:"exposure"`
	Frames    int           `yaml:"frames"`
	FilePath  string        `yaml:"file_path"`
	FileName  string        `yaml:"file_name"`
	FileWrite bool          `yaml:"file_write"`

	// Frame stream
	StreamEnabled bool          `yaml:"stream_enabled"`
	StreamIP      string        `yaml:"stream_ip"`
	StreamPort    int           `yaml:"stream_port"`
	StreamDepth   int           `yaml:"stream_depth"`
	RecordPath    string        `yaml:"record_path"` // empty = no recording
	FramePoll     time.Duration `yaml:"frame_poll"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
	LogFormat   string `yaml:"log_format"` // json, text
	LogLevel    string `yaml:"log_level"`
	TUI         bool   `yaml:"tui"`

	// Diagnostic modes
	SkipPreflight bool `yaml:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Backend
		Backend:           BackendHardware,
		ExecutablesPath:   "/opt/slsDetectorPackage/build/bin/",
		ReceiverBinary:    "slsReceiver",
		SimulatorBinary:   "moenchDetectorServer_virtual",
		ReceiverPort:      1954,
		ProcessingRXIP:    "192.168.2.200",
		ProcessingRXPort:  50003,
		ProcessingTXIP:    "192.168.1.118",
		ProcessingTXPort:  50001,
		ProcessingCores:   20,
		HardwareConfig:    "/home/moench/detector/moench_2021.config",
		SimulatedConfig:   "/home/moench/detector/moench_2021_virtual.config",
		NetworkInterface:  "eno2",
		CredentialEnv:     "MOENCH_ROOT_PASSWORD",
		SettleInterval:    5 * time.Second,
		ConfigPushDelay:   2 * time.Second,
		ReadyAttempts:     5,
		ReadyInterval:     500 * time.Millisecond,
		RestartBackend:    true,
		ProbeAttempts:     3,
		ProbeBackoffStart: 250 * time.Millisecond,
		ProbeBackoffMax:   2 * time.Second,

		// Acquisition
		PollInterval:    100 * time.Millisecond,
		SettleDelay:     250 * time.Millisecond,
		StopWait:        3 * time.Second,
		PedestalFrames:  5000,
		OutputExt:       "tiff",
		OutputWaitTries: 16,
		OutputWaitStep:  250 * time.Millisecond,

		// Frame stream
		StreamIP:    "192.168.1.118",
		StreamPort:  50001,
		StreamDepth: 4,
		FramePoll:   50 * time.Millisecond,

		// Observability
		MetricsAddr: "0.0.0.0:17092",
		LogFormat:   "json",
		LogLevel:    "info",
	}
}

// ConfigFile returns the detector configuration file for the selected backend.
func (c *Config) ConfigFile() string {
	if c.Backend == BackendSimulated {
		return c.SimulatedConfig
	}
	return c.HardwareConfig
}
