// Package metrics provides Prometheus metrics for go-moench-control.
//
// Metrics cover three areas: the acquisition controller (state, runs,
// durations, file index), the backend processes and the frame stream.
package metrics

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
)

// Controller and hardware state names exported as one-hot label values.
var (
	ControllerStates = []string{"INIT", "READY", "BUSY", "FAULT", "UNKNOWN"}
	RunStates        = []string{"IDLE", "WAITING", "RUNNING", "TRANSMITTING", "RUN_FINISHED", "STOPPED", "ERROR"}
)

// --- Overview ---
var (
	moenchInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moench_info",
			Help: "Information about the orchestrator (value always 1)",
		},
		[]string{"version", "backend"},
	)

	moenchControllerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moench_controller_state",
			Help: "Externally visible controller state (1 for the current state)",
		},
		[]string{"state"},
	)

	moenchRunState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moench_run_state",
			Help: "Last observed hardware run state (1 for the current state)",
		},
		[]string{"state"},
	)

	moenchUptimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_uptime_seconds",
			Help: "Seconds since the orchestrator started",
		},
	)
)

// --- Backend ---
var (
	moenchBackendReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_backend_ready",
			Help: "1 if every required backend process was found on the last check",
		},
	)

	moenchBackendProcessUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moench_backend_process_up",
			Help: "1 if the named backend process was found on the last check",
		},
		[]string{"process"},
	)

	moenchBackendStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moench_backend_starts_total",
			Help: "Backend start attempts by result",
		},
		[]string{"result"},
	)
)

// --- Acquisitions ---
var (
	moenchAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moench_acquisitions_total",
			Help: "Finished acquisitions by kind (normal, pedestal) and result (ok, error, stopped)",
		},
		[]string{"kind", "result"},
	)

	moenchAcquisitionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moench_acquisition_rejections_total",
			Help: "Start requests that did not dispatch a run, by reason",
		},
		[]string{"reason"},
	)

	moenchAcquisitionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "moench_acquisition_duration_seconds",
			Help: "Wall time from dispatch to settled run state",
			Buckets: []float64{
				0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800,
			},
		},
	)

	moenchAcquisitionDurationP50Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_acquisition_duration_p50_seconds",
			Help: "Acquisition duration 50th percentile",
		},
	)

	moenchAcquisitionDurationP95Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_acquisition_duration_p95_seconds",
			Help: "Acquisition duration 95th percentile",
		},
	)

	moenchAcquisitionInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_acquisition_in_flight",
			Help: "1 while an acquisition worker is running",
		},
	)

	moenchFileIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_file_index",
			Help: "Current output file index",
		},
	)

	moenchOutputFilesMissingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moench_output_files_missing_total",
			Help: "File-writing runs whose output file did not appear",
		},
	)

	moenchLastImageSum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_last_image_sum",
			Help: "Pixel sum of the last image a run wrote",
		},
	)

	moenchLastImageMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_last_image_max",
			Help: "Largest pixel value of the last image a run wrote",
		},
	)

	moenchLastImagePixels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_last_image_pixels",
			Help: "Pixel count of the last image a run wrote",
		},
	)
)

// --- Frame stream ---
var (
	moenchFramesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moench_frames_received_total",
			Help: "Frames decoded from the stream",
		},
	)

	moenchFramesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moench_frames_dropped_total",
			Help: "Stream messages discarded because the reader fell behind",
		},
	)

	moenchFrameDecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moench_frame_decode_errors_total",
			Help: "Stream messages that could not be decoded, by reason",
		},
		[]string{"reason"},
	)

	moenchFrameBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moench_frame_bytes_total",
			Help: "Payload bytes decoded from the stream",
		},
	)

	moenchFramesRecordedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moench_frames_recorded_total",
			Help: "Frames written to the recording file",
		},
	)

	moenchFrameIntervalP50Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_frame_interval_p50_seconds",
			Help: "Median time between stream messages",
		},
	)

	moenchFrameIntervalP95Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moench_frame_interval_p95_seconds",
			Help: "95th percentile time between stream messages",
		},
	)
)

// Collector manages all Prometheus metrics for the orchestrator.
type Collector struct {
	version string
	backend string

	startTime time.Time

	mu           sync.Mutex
	durations    *tdigest.TDigest
	acquisitions map[string]int64 // "kind/result" -> count
	rejections   int64
	lastIndex    int
	lastPath     string
	lastImageSum uint64
	framesTotal  int64
	droppedTotal int64

	// Previous cumulative stream counters for delta calculation.
	prevStream StreamStatsUpdate
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Backend string
}

// StreamStatsUpdate carries cumulative frame stream counters.
type StreamStatsUpdate struct {
	Frames       int64
	Dropped      int64
	Unsupported  int64
	DecodeErrors int64
	Bytes        int64
	Recorded     int64
	IntervalP50  time.Duration
	IntervalP95  time.Duration
}

// NewCollector creates a new metrics collector.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		version:      cfg.Version,
		backend:      cfg.Backend,
		startTime:    time.Now(),
		durations:    tdigest.NewWithCompression(100),
		acquisitions: make(map[string]int64),
	}

	registry.MustRegister(
		moenchInfo,
		moenchControllerState,
		moenchRunState,
		moenchUptimeSeconds,

		moenchBackendReady,
		moenchBackendProcessUp,
		moenchBackendStartsTotal,

		moenchAcquisitionsTotal,
		moenchAcquisitionRejectionsTotal,
		moenchAcquisitionDurationSeconds,
		moenchAcquisitionDurationP50Seconds,
		moenchAcquisitionDurationP95Seconds,
		moenchAcquisitionInFlight,
		moenchFileIndex,
		moenchOutputFilesMissingTotal,
		moenchLastImageSum,
		moenchLastImageMax,
		moenchLastImagePixels,

		moenchFramesReceivedTotal,
		moenchFramesDroppedTotal,
		moenchFrameDecodeErrorsTotal,
		moenchFrameBytesTotal,
		moenchFramesRecordedTotal,
		moenchFrameIntervalP50Seconds,
		moenchFrameIntervalP95Seconds,
	)

	moenchInfo.Reset()
	moenchInfo.WithLabelValues(cfg.Version, cfg.Backend).Set(1)
	c.SetControllerState("INIT")

	return c
}

// setOneHot sets label state to 1 and every other known label to 0.
func setOneHot(vec *prometheus.GaugeVec, known []string, state string) {
	found := false
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1
			found = true
		}
		vec.WithLabelValues(s).Set(v)
	}
	if !found {
		vec.WithLabelValues(state).Set(1)
	}
}

// SetControllerState records the externally visible controller state.
func (c *Collector) SetControllerState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	setOneHot(moenchControllerState, ControllerStates, state)
}

// SetRunState records the last observed hardware run state.
func (c *Collector) SetRunState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	setOneHot(moenchRunState, RunStates, state)
}

// SetBackendReady records a readiness check and the per-process result.
func (c *Collector) SetBackendReady(ready bool, processes map[string]bool) {
	moenchBackendReady.Set(boolGauge(ready))
	for name, up := range processes {
		moenchBackendProcessUp.WithLabelValues(name).Set(boolGauge(up))
	}
}

// BackendStarted records a backend start attempt.
func (c *Collector) BackendStarted(ready bool, err error) {
	result := "ready"
	switch {
	case err != nil:
		result = "error"
	case !ready:
		result = "not_ready"
	}
	moenchBackendStartsTotal.WithLabelValues(result).Inc()
}

// AcquisitionStarted marks a worker as running.
func (c *Collector) AcquisitionStarted() {
	moenchAcquisitionInFlight.Set(1)
}

// AcquisitionRejected records a start request that did not dispatch.
func (c *Collector) AcquisitionRejected(reason string) {
	moenchAcquisitionRejectionsTotal.WithLabelValues(reason).Inc()

	c.mu.Lock()
	c.rejections++
	c.mu.Unlock()
}

// RecordAcquisition records a finished acquisition.
func (c *Collector) RecordAcquisition(kind, result string, d time.Duration) {
	moenchAcquisitionInFlight.Set(0)
	moenchAcquisitionsTotal.WithLabelValues(kind, result).Inc()
	moenchAcquisitionDurationSeconds.Observe(d.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquisitions[kind+"/"+result]++
	c.durations.Add(d.Seconds(), 1)
	moenchAcquisitionDurationP50Seconds.Set(c.durations.Quantile(0.50))
	moenchAcquisitionDurationP95Seconds.Set(c.durations.Quantile(0.95))
}

// SetFileIndex records the session file index and the last written path.
func (c *Collector) SetFileIndex(index int, lastPath string) {
	moenchFileIndex.Set(float64(index))

	c.mu.Lock()
	c.lastIndex = index
	if lastPath != "" {
		c.lastPath = lastPath
	}
	c.mu.Unlock()
}

// SetLastImage publishes the summary of the last image loaded.
func (c *Collector) SetLastImage(sum uint64, peak uint32, pixels int) {
	moenchLastImageSum.Set(float64(sum))
	moenchLastImageMax.Set(float64(peak))
	moenchLastImagePixels.Set(float64(pixels))

	c.mu.Lock()
	c.lastImageSum = sum
	c.mu.Unlock()
}

// OutputMissing records a file-writing run whose output never appeared.
func (c *Collector) OutputMissing() {
	moenchOutputFilesMissingTotal.Inc()
}

// RecordStreamStats updates frame stream metrics from cumulative counters.
func (c *Collector) RecordStreamStats(s StreamStatsUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.prevStream
	if d := s.Frames - prev.Frames; d > 0 {
		moenchFramesReceivedTotal.Add(float64(d))
		c.framesTotal += d
	}
	if d := s.Dropped - prev.Dropped; d > 0 {
		moenchFramesDroppedTotal.Add(float64(d))
		c.droppedTotal += d
	}
	if d := s.Unsupported - prev.Unsupported; d > 0 {
		moenchFrameDecodeErrorsTotal.WithLabelValues("unsupported_bit_depth").Add(float64(d))
	}
	if d := s.DecodeErrors - prev.DecodeErrors; d > 0 {
		moenchFrameDecodeErrorsTotal.WithLabelValues("malformed").Add(float64(d))
	}
	if d := s.Bytes - prev.Bytes; d > 0 {
		moenchFrameBytesTotal.Add(float64(d))
	}
	if d := s.Recorded - prev.Recorded; d > 0 {
		moenchFramesRecordedTotal.Add(float64(d))
	}
	moenchFrameIntervalP50Seconds.Set(s.IntervalP50.Seconds())
	moenchFrameIntervalP95Seconds.Set(s.IntervalP95.Seconds())

	c.prevStream = s
}

// ResetStreamBaseline is called when a new receiver replaces the old one,
// so its counters start from zero.
func (c *Collector) ResetStreamBaseline() {
	c.mu.Lock()
	c.prevStream = StreamStatsUpdate{}
	c.mu.Unlock()
}

// Tick updates time-derived gauges.
func (c *Collector) Tick() {
	moenchUptimeSeconds.Set(time.Since(c.startTime).Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration       time.Duration
	Backend        string
	Acquisitions   map[string]int64
	Rejections     int64
	DurationP50    time.Duration
	DurationP95    time.Duration
	FileIndex      int
	LastPath       string
	LastImageSum   uint64
	FramesReceived int64
	FramesDropped  int64
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:       time.Since(c.startTime),
		Backend:        c.backend,
		Acquisitions:   make(map[string]int64, len(c.acquisitions)),
		Rejections:     c.rejections,
		FileIndex:      c.lastIndex,
		LastPath:       c.lastPath,
		LastImageSum:   c.lastImageSum,
		FramesReceived: c.framesTotal,
		FramesDropped:  c.droppedTotal,
	}
	for k, v := range c.acquisitions {
		s.Acquisitions[k] = v
	}
	if c.durations.Count() > 0 {
		s.DurationP50 = secondsToDuration(c.durations.Quantile(0.50))
		s.DurationP95 = secondsToDuration(c.durations.Quantile(0.95))
	}
	return s
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
