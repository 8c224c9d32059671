package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Status is the daemon state as read back from its /metrics endpoint.
type Status struct {
	ControllerState string
	RunState        string
	BackendReady    bool
	Processes       map[string]bool
	InFlight        bool
	FileIndex       int
	Acquisitions    map[string]float64 // "kind/result" -> count
	DurationP50     time.Duration
	FramesReceived  float64
	FramesDropped   float64
	Uptime          time.Duration
	Ready           bool
}

// StatusClient reads a running daemon's metrics and readiness endpoints.
type StatusClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewStatusClient creates a client for the daemon at addr (host:port or URL).
func NewStatusClient(addr string) *StatusClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &StatusClient{
		baseURL: strings.TrimRight(base, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Fetch scrapes /metrics and /ready.
func (c *StatusClient) Fetch(ctx context.Context) (*Status, error) {
	families, err := c.scrape(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		ControllerState: oneHotLabel(families["moench_controller_state"], "state"),
		RunState:        oneHotLabel(families["moench_run_state"], "state"),
		BackendReady:    gaugeValue(families["moench_backend_ready"]) == 1,
		Processes:       make(map[string]bool),
		InFlight:        gaugeValue(families["moench_acquisition_in_flight"]) == 1,
		FileIndex:       int(gaugeValue(families["moench_file_index"])),
		Acquisitions:    make(map[string]float64),
		DurationP50:     secondsToDuration(gaugeValue(families["moench_acquisition_duration_p50_seconds"])),
		FramesReceived:  counterValue(families["moench_frames_received_total"]),
		FramesDropped:   counterValue(families["moench_frames_dropped_total"]),
		Uptime:          secondsToDuration(gaugeValue(families["moench_uptime_seconds"])),
	}

	if mf := families["moench_backend_process_up"]; mf != nil {
		for _, m := range mf.GetMetric() {
			st.Processes[labelValue(m, "process")] = m.GetGauge().GetValue() == 1
		}
	}
	if mf := families["moench_acquisitions_total"]; mf != nil {
		for _, m := range mf.GetMetric() {
			key := labelValue(m, "kind") + "/" + labelValue(m, "result")
			st.Acquisitions[key] = m.GetCounter().GetValue()
		}
	}

	st.Ready, err = c.ready(ctx)
	if err != nil {
		return st, err
	}
	return st, nil
}

func (c *StatusClient) scrape(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	// Parse Prometheus text format
	decoder := expfmt.NewDecoder(resp.Body, expfmt.FmtText)
	parsed := make(map[string]*dto.MetricFamily)

	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		parsed[mf.GetName()] = &mf
	}
	return parsed, nil
}

func (c *StatusClient) ready(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK, nil
}

// oneHotLabel returns the label value of the series set to 1.
func oneHotLabel(mf *dto.MetricFamily, label string) string {
	if mf == nil {
		return ""
	}
	for _, m := range mf.GetMetric() {
		if m.GetGauge().GetValue() == 1 {
			return labelValue(m, label)
		}
	}
	return ""
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func gaugeValue(mf *dto.MetricFamily) float64 {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}

func counterValue(mf *dto.MetricFamily) float64 {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0
	}
	return mf.GetMetric()[0].GetCounter().GetValue()
}
