package config

import (
	"github.com/spf13/pflag"
)

// RegisterBackendFlags binds the backend process flags to cfg.
func RegisterBackendFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, `Backend variant: "hardware" or "simulated"`)
	fs.StringVar(&cfg.ExecutablesPath, "executables", cfg.ExecutablesPath, "Directory holding the slsDetectorPackage binaries")
	fs.StringVar(&cfg.ReceiverBinary, "receiver", cfg.ReceiverBinary, "Receiver process binary name")
	fs.StringVar(&cfg.SimulatorBinary, "simulator", cfg.SimulatorBinary, "Simulator process binary name (simulated backend)")
	fs.StringVar(&cfg.ProcessingBinary, "processing", cfg.ProcessingBinary, "Processing process binary name (empty = disabled)")
	fs.IntVar(&cfg.ReceiverPort, "receiver-port", cfg.ReceiverPort, "Receiver TCP port")
	fs.StringVar(&cfg.ProcessingRXIP, "processing-rx-ip", cfg.ProcessingRXIP, "Processing process input IP")
	fs.IntVar(&cfg.ProcessingRXPort, "processing-rx-port", cfg.ProcessingRXPort, "Processing process input port")
	fs.StringVar(&cfg.ProcessingTXIP, "processing-tx-ip", cfg.ProcessingTXIP, "Processing process output IP")
	fs.IntVar(&cfg.ProcessingTXPort, "processing-tx-port", cfg.ProcessingTXPort, "Processing process output port")
	fs.IntVar(&cfg.ProcessingCores, "processing-cores", cfg.ProcessingCores, "Processing thread count")
	fs.StringVar(&cfg.HardwareConfig, "hardware-config", cfg.HardwareConfig, "Detector config file for the hardware backend")
	fs.StringVar(&cfg.SimulatedConfig, "simulated-config", cfg.SimulatedConfig, "Detector config file for the simulated backend")
	fs.StringVar(&cfg.NetworkInterface, "interface", cfg.NetworkInterface, "Network interface to bring up before start (empty = skip)")
	fs.StringVar(&cfg.CredentialEnv, "credential-env", cfg.CredentialEnv, "Environment variable holding the sudo credential")
	fs.StringVar(&cfg.CredentialFile, "credential-file", cfg.CredentialFile, "File holding the sudo credential")
	fs.DurationVar(&cfg.SettleInterval, "settle", cfg.SettleInterval, "Wait after spawning the simulator")
	fs.DurationVar(&cfg.ConfigPushDelay, "config-push-delay", cfg.ConfigPushDelay, "Wait after pushing the detector config")
	fs.IntVar(&cfg.ReadyAttempts, "ready-attempts", cfg.ReadyAttempts, "Readiness polls before giving up")
	fs.DurationVar(&cfg.ReadyInterval, "ready-interval", cfg.ReadyInterval, "Delay between readiness polls")
}

// RegisterAcquisitionFlags binds the controller and session flags to cfg.
func RegisterAcquisitionFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.BoolVar(&cfg.RestartBackend, "restart-backend", cfg.RestartBackend, "Stop stale backend processes before starting")
	fs.IntVar(&cfg.ProbeAttempts, "probe-attempts", cfg.ProbeAttempts, "Hardware status probes before FAULT")
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Run-state poll interval during acquisition")
	fs.DurationVar(&cfg.StopWait, "stop-wait", cfg.StopWait, "Max wait for the worker after a stop (0 = do not wait)")
	fs.IntVar(&cfg.PedestalFrames, "pedestal-frames", cfg.PedestalFrames, "Frame count used for pedestal runs")
	fs.StringVar(&cfg.OutputExt, "output-ext", cfg.OutputExt, "Output image file extension")
	fs.IntVar(&cfg.Acquire, "acquire", cfg.Acquire, "Run N acquisitions after init")
	fs.BoolVar(&cfg.Pedestal, "pedestal", cfg.Pedestal, "Run a pedestal acquisition after init")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Run duration (0 = forever)")

	fs.DurationVar(&cfg.Exposure, "exposure", cfg.Exposure, "Exposure time applied after init (0 = keep)")
	fs.IntVar(&cfg.Frames, "frames", cfg.Frames, "Frame count applied after init (0 = keep)")
	fs.StringVar(&cfg.FilePath, "file-path", cfg.FilePath, "Output directory applied after init")
	fs.StringVar(&cfg.FileName, "file-name", cfg.FileName, "Output base name applied after init")
	fs.BoolVar(&cfg.FileWrite, "file-write", cfg.FileWrite, "Enable file writing")
}

// RegisterStreamFlags binds the frame stream flags to cfg.
func RegisterStreamFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.BoolVar(&cfg.StreamEnabled, "stream", cfg.StreamEnabled, "Enable the frame stream around each run")
	fs.StringVar(&cfg.StreamIP, "stream-ip", cfg.StreamIP, "Frame stream publisher IP")
	fs.IntVar(&cfg.StreamPort, "stream-port", cfg.StreamPort, "Frame stream publisher port")
	fs.IntVar(&cfg.StreamDepth, "stream-depth", cfg.StreamDepth, "Frames buffered between socket and reader")
	fs.StringVar(&cfg.RecordPath, "record", cfg.RecordPath, "Record received frames to this file")
	fs.DurationVar(&cfg.FramePoll, "frame-poll", cfg.FramePoll, "Frame receiver poll interval")
}

// RegisterObservabilityFlags binds logging, metrics and dashboard flags to cfg.
func RegisterObservabilityFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVar(&cfg.TUI, "tui", cfg.TUI, "Enable live terminal dashboard")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
}

// RegisterAll binds every flag group.
func RegisterAll(fs *pflag.FlagSet, cfg *Config) {
	RegisterBackendFlags(fs, cfg)
	RegisterAcquisitionFlags(fs, cfg)
	RegisterStreamFlags(fs, cfg)
	RegisterObservabilityFlags(fs, cfg)
}
