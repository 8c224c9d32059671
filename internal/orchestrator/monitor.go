package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbi-div-b/go-moench-control/internal/framestream"
	"github.com/mbi-div-b/go-moench-control/internal/metrics"
)

// FrameSource is the receiver surface the monitor polls.
type FrameSource interface {
	ReceiveFrame() (framestream.Frame, bool, error)
	Stats() framestream.Stats
}

// FrameSink persists received frames.
type FrameSink interface {
	Write(f framestream.Frame) error
	Records() int64
}

// FrameMonitorConfig holds configuration for a FrameMonitor.
type FrameMonitorConfig struct {
	Source  FrameSource
	Sink    FrameSink          // nil = no recording
	Metrics *metrics.Collector // nil = no metrics
	Poll    time.Duration
	// MaxPerPoll bounds how many frames one poll drains.
	MaxPerPoll int
	Logger     *slog.Logger
	OnFrame    func(f framestream.Frame)
}

// StreamSnapshot is the last counters the monitor reported.
type StreamSnapshot struct {
	framestream.Stats
	Recorded int64
}

// FrameMonitor polls a frame receiver at a fixed interval, hands frames
// to the sink and publishes the receiver counters.
type FrameMonitor struct {
	cfg    FrameMonitorConfig
	logger *slog.Logger

	mu   sync.Mutex
	last StreamSnapshot
}

// NewFrameMonitor creates a FrameMonitor.
func NewFrameMonitor(cfg FrameMonitorConfig) *FrameMonitor {
	if cfg.Poll <= 0 {
		cfg.Poll = 50 * time.Millisecond
	}
	if cfg.MaxPerPoll <= 0 {
		cfg.MaxPerPoll = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FrameMonitor{cfg: cfg, logger: cfg.Logger}
}

// Run polls until ctx is done. The final counters are published before
// it returns.
func (m *FrameMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.drain()
			m.report()
			return nil
		case <-ticker.C:
			m.drain()
			m.report()
		}
	}
}

// drain takes pending frames until the source is empty or the per-poll
// budget is spent.
func (m *FrameMonitor) drain() {
	for i := 0; i < m.cfg.MaxPerPoll; i++ {
		frame, ok, err := m.cfg.Source.ReceiveFrame()
		if errors.Is(err, framestream.ErrNotConnected) {
			return
		}
		if err != nil {
			m.logger.Debug("frame_decode_failed", "error", err)
			continue
		}
		if !ok {
			return
		}

		if m.cfg.Sink != nil {
			if err := m.cfg.Sink.Write(frame); err != nil {
				m.logger.Warn("frame_record_failed", "index", frame.Header.Index, "error", err)
			}
		}
		if m.cfg.OnFrame != nil {
			m.cfg.OnFrame(frame)
		}
	}
}

func (m *FrameMonitor) report() {
	snap := StreamSnapshot{Stats: m.cfg.Source.Stats()}
	if m.cfg.Sink != nil {
		snap.Recorded = m.cfg.Sink.Records()
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordStreamStats(metrics.StreamStatsUpdate{
			Frames:       snap.Frames,
			Dropped:      snap.Dropped,
			Unsupported:  snap.Unsupported,
			DecodeErrors: snap.DecodeErrors,
			Bytes:        snap.Bytes,
			Recorded:     snap.Recorded,
			IntervalP50:  snap.IntervalP50,
			IntervalP95:  snap.IntervalP95,
		})
	}
}

// Snapshot returns the counters from the last poll.
func (m *FrameMonitor) Snapshot() StreamSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
