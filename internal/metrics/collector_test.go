package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestRegistry creates a new registry for isolated testing.
func newTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// newTestCollector creates a collector with a test registry.
func newTestCollector(cfg CollectorConfig) (*Collector, *prometheus.Registry) {
	registry := newTestRegistry()
	c := NewCollectorWithRegistry(cfg, registry)
	return c, registry
}

// sample returns the value of the series in family name whose labels
// include every pair in labels. Metric vars are package-level, so tests
// compare values before and after an operation.
func sample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch {
			case m.Gauge != nil:
				return m.GetGauge().GetValue()
			case m.Counter != nil:
				return m.GetCounter().GetValue()
			case m.Histogram != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	for k, v := range want {
		if labelValue(m, k) != v {
			return false
		}
	}
	return true
}

// =============================================================================
// Tests
// =============================================================================

func TestNewCollector(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{Version: "v1.2.3", Backend: "simulated"})

	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if got := sample(t, reg, "moench_info", map[string]string{"version": "v1.2.3", "backend": "simulated"}); got != 1 {
		t.Errorf("moench_info = %v, want 1", got)
	}
	if got := sample(t, reg, "moench_controller_state", map[string]string{"state": "INIT"}); got != 1 {
		t.Errorf("initial controller state INIT = %v, want 1", got)
	}
}

func TestCollector_SetControllerState_OneHot(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{})

	c.SetControllerState("BUSY")

	for _, s := range ControllerStates {
		want := 0.0
		if s == "BUSY" {
			want = 1
		}
		if got := sample(t, reg, "moench_controller_state", map[string]string{"state": s}); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestCollector_SetRunState(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{})

	c.SetRunState("RUNNING")
	c.SetRunState("IDLE")

	if got := sample(t, reg, "moench_run_state", map[string]string{"state": "IDLE"}); got != 1 {
		t.Errorf("IDLE = %v, want 1", got)
	}
	if got := sample(t, reg, "moench_run_state", map[string]string{"state": "RUNNING"}); got != 0 {
		t.Errorf("RUNNING = %v, want 0", got)
	}
}

func TestCollector_SetBackendReady(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{})

	c.SetBackendReady(false, map[string]bool{"slsReceiver": true, "moenchDetectorServer_virtual": false})

	if got := sample(t, reg, "moench_backend_ready", nil); got != 0 {
		t.Errorf("ready = %v, want 0", got)
	}
	if got := sample(t, reg, "moench_backend_process_up", map[string]string{"process": "slsReceiver"}); got != 1 {
		t.Errorf("slsReceiver up = %v, want 1", got)
	}
	if got := sample(t, reg, "moench_backend_process_up", map[string]string{"process": "moenchDetectorServer_virtual"}); got != 0 {
		t.Errorf("simulator up = %v, want 0", got)
	}
}

func TestCollector_RecordAcquisition(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{})
	labels := map[string]string{"kind": "pedestal", "result": "ok"}
	before := sample(t, reg, "moench_acquisitions_total", labels)
	histBefore := sample(t, reg, "moench_acquisition_duration_seconds", nil)

	c.AcquisitionStarted()
	if got := sample(t, reg, "moench_acquisition_in_flight", nil); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}

	c.RecordAcquisition("pedestal", "ok", 2*time.Second)

	if got := sample(t, reg, "moench_acquisitions_total", labels) - before; got != 1 {
		t.Errorf("acquisitions delta = %v, want 1", got)
	}
	if got := sample(t, reg, "moench_acquisition_duration_seconds", nil) - histBefore; got != 1 {
		t.Errorf("histogram samples delta = %v, want 1", got)
	}
	if got := sample(t, reg, "moench_acquisition_in_flight", nil); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := sample(t, reg, "moench_acquisition_duration_p50_seconds", nil); got != 2 {
		t.Errorf("p50 = %v, want 2", got)
	}
}

func TestCollector_RecordStreamStats_Deltas(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{})
	before := sample(t, reg, "moench_frames_received_total", nil)

	c.RecordStreamStats(StreamStatsUpdate{Frames: 10, Dropped: 1, Bytes: 100})
	c.RecordStreamStats(StreamStatsUpdate{Frames: 25, Dropped: 1, Bytes: 250})

	if got := sample(t, reg, "moench_frames_received_total", nil) - before; got != 25 {
		t.Errorf("frames delta = %v, want 25", got)
	}

	// A new receiver restarts its counters at zero.
	c.ResetStreamBaseline()
	c.RecordStreamStats(StreamStatsUpdate{Frames: 5})

	if got := sample(t, reg, "moench_frames_received_total", nil) - before; got != 30 {
		t.Errorf("frames delta after reset = %v, want 30", got)
	}

	s := c.GenerateSummary()
	if s.FramesReceived != 30 || s.FramesDropped != 1 {
		t.Errorf("summary frames = %d/%d, want 30/1", s.FramesReceived, s.FramesDropped)
	}
}

func TestCollector_RecordStreamStats_DecodeErrorReasons(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{})
	unsupported := map[string]string{"reason": "unsupported_bit_depth"}
	malformed := map[string]string{"reason": "malformed"}
	u0 := sample(t, reg, "moench_frame_decode_errors_total", unsupported)
	m0 := sample(t, reg, "moench_frame_decode_errors_total", malformed)

	c.RecordStreamStats(StreamStatsUpdate{Unsupported: 2, DecodeErrors: 3})

	if got := sample(t, reg, "moench_frame_decode_errors_total", unsupported) - u0; got != 2 {
		t.Errorf("unsupported delta = %v, want 2", got)
	}
	if got := sample(t, reg, "moench_frame_decode_errors_total", malformed) - m0; got != 3 {
		t.Errorf("malformed delta = %v, want 3", got)
	}
}

func TestCollector_BackendStarted(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		err    error
		result string
	}{
		{"ready", true, nil, "ready"},
		{"not ready", false, nil, "not_ready"},
		{"error", false, errTest, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reg := newTestCollector(CollectorConfig{})
			labels := map[string]string{"result": tt.result}
			before := sample(t, reg, "moench_backend_starts_total", labels)

			c.BackendStarted(tt.ready, tt.err)

			if got := sample(t, reg, "moench_backend_starts_total", labels) - before; got != 1 {
				t.Errorf("%s delta = %v, want 1", tt.result, got)
			}
		})
	}
}

func TestCollector_SetLastImage(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{})

	c.SetLastImage(123456, 4095, 160000)

	for name, want := range map[string]float64{
		"moench_last_image_sum":    123456,
		"moench_last_image_max":    4095,
		"moench_last_image_pixels": 160000,
	} {
		if got := sample(t, reg, name, nil); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	if s := c.GenerateSummary(); s.LastImageSum != 123456 {
		t.Errorf("LastImageSum = %d, want 123456", s.LastImageSum)
	}
}

func TestCollector_GenerateSummary(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{Backend: "hardware"})

	c.RecordAcquisition("normal", "ok", time.Second)
	c.RecordAcquisition("normal", "ok", 3*time.Second)
	c.RecordAcquisition("normal", "stopped", 500*time.Millisecond)
	c.AcquisitionRejected("already_running")
	c.SetFileIndex(7, "/data/run_6.tiff")
	c.SetFileIndex(7, "")

	s := c.GenerateSummary()

	if s.Backend != "hardware" {
		t.Errorf("Backend = %q", s.Backend)
	}
	if s.Acquisitions["normal/ok"] != 2 || s.Acquisitions["normal/stopped"] != 1 {
		t.Errorf("Acquisitions = %v", s.Acquisitions)
	}
	if s.Rejections != 1 {
		t.Errorf("Rejections = %d, want 1", s.Rejections)
	}
	if s.FileIndex != 7 || s.LastPath != "/data/run_6.tiff" {
		t.Errorf("file = %d %q", s.FileIndex, s.LastPath)
	}
	if s.DurationP50 <= 0 || s.DurationP95 < s.DurationP50 {
		t.Errorf("durations p50=%v p95=%v", s.DurationP50, s.DurationP95)
	}
}

func TestCollector_GenerateSummary_Empty(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})

	s := c.GenerateSummary()
	if s.DurationP50 != 0 || len(s.Acquisitions) != 0 {
		t.Errorf("empty summary = %+v", s)
	}
}

func TestCollector_ThreadSafety(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.SetControllerState(ControllerStates[j%len(ControllerStates)])
				c.SetRunState(RunStates[j%len(RunStates)])
				c.RecordAcquisition("normal", "ok", time.Duration(j)*time.Millisecond)
				c.RecordStreamStats(StreamStatsUpdate{Frames: int64(j)})
				c.SetFileIndex(j, "")
				c.Tick()
			}
		}(i)
	}
	wg.Wait()

	_ = c.GenerateSummary()
}
