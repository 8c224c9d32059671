package orchestrator

import (
	"context"
	"time"

	"github.com/mbi-div-b/go-moench-control/internal/tui"
)

// commandTimeout bounds a key-driven command.
const commandTimeout = 30 * time.Second

// dashboard adapts the orchestrator to the tui status source and command
// surface.
type dashboard struct {
	o *Orchestrator
}

// Status implements tui.StatusSource.
func (d dashboard) Status() tui.Status {
	o := d.o
	snap := o.controller.Snapshot()
	sess := snap.Session
	ready, procs := o.backendStatus()

	st := tui.Status{
		State:        snap.State.String(),
		RunState:     snap.RunState.String(),
		BackendReady: ready,
		Processes:    procs,

		Exposure:  sess.Exposure,
		Period:    sess.Period,
		Frames:    sess.Frames,
		Triggers:  sess.Triggers,
		Timing:    string(sess.Timing),
		FrameMode: string(sess.FrameMode),
		FileWrite: sess.FileWrite,
		Streaming: sess.Streaming,
		FileIndex: sess.FileIndex,
		NextPath:  snap.NextPath,
		LastPath:  snap.LastPath,

		LastImageWidth:  snap.LastImage.Width,
		LastImageHeight: snap.LastImage.Height,
		LastImageSum:    snap.LastImage.Sum,
		LastImageMax:    snap.LastImage.Max,

		InFlight:   snap.InFlight,
		RunID:      snap.RunID,
		RunKind:    snap.RunKind,
		RunStarted: snap.RunStarted,
	}
	if snap.InFlight {
		frames := sess.Frames
		if snap.RunKind == KindPedestal {
			frames = o.config.PedestalFrames
		}
		st.Expected = expectedDuration(sess, frames, o.config.SettleDelay)
	}

	for _, n := range o.metrics.GenerateSummary().Acquisitions {
		st.Acquisitions += n
	}

	if o.monitor != nil {
		s := o.monitor.Snapshot()
		st.FramesReceived = s.Frames
		st.FramesDropped = s.Dropped
		st.DecodeErrors = s.DecodeErrors + s.Unsupported
		st.FrameBytes = s.Bytes
		st.FrameInterval = s.IntervalP50
	}
	return st
}

// expectedDuration estimates a run's length from the session timing.
func expectedDuration(s Session, frames int, settle time.Duration) time.Duration {
	per := s.Exposure
	if s.Period > per {
		per = s.Period
	}
	triggers := s.Triggers
	if triggers < 1 {
		triggers = 1
	}
	return settle + time.Duration(frames*triggers)*per
}

// Acquire implements tui.Commands.
func (d dashboard) Acquire() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := d.o.controller.StartAcquire(ctx)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// Pedestal implements tui.Commands.
func (d dashboard) Pedestal() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := d.o.controller.AcquirePedestal(ctx)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// Stop implements tui.Commands.
func (d dashboard) Stop() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	settled, err := d.o.controller.StopAcquire(ctx)
	if err != nil {
		return "", err
	}
	if !settled {
		return "stop requested, run still settling", nil
	}
	return "stopped", nil
}
