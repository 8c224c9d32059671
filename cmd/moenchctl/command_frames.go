package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbi-div-b/go-moench-control/internal/framestream"
	"github.com/mbi-div-b/go-moench-control/internal/orchestrator"
)

func newFramesCmd(a *app) *cobra.Command {
	var (
		count int64
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Tail the frame stream, optionally recording it",
		Long: `Subscribe to the frame stream at --stream-ip/--stream-port and print one
line per frame. --record writes every frame to a file readable with the
framestream record reader.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			receiver := framestream.NewReceiver(framestream.Options{
				Depth:  cfg.StreamDepth,
				Logger: a.logger,
			})
			endpoint := framestream.Endpoint(cfg.StreamIP, cfg.StreamPort)
			if err := receiver.Connect(ctx, endpoint); err != nil {
				return err
			}
			defer receiver.Close()

			var sink orchestrator.FrameSink
			if cfg.RecordPath != "" {
				rec, err := framestream.CreateRecorder(cfg.RecordPath)
				if err != nil {
					return err
				}
				defer rec.Close()
				sink = rec
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			var seen int64
			monitor := orchestrator.NewFrameMonitor(orchestrator.FrameMonitorConfig{
				Source: receiver,
				Sink:   sink,
				Poll:   cfg.FramePoll,
				Logger: a.logger,
				OnFrame: func(f framestream.Frame) {
					seen++
					if !quiet {
						printFrame(f)
					}
					if count > 0 && seen >= count {
						cancel()
					}
				},
			})

			fmt.Fprintf(os.Stderr, "Listening on %s (Ctrl+C to stop)\n", endpoint)
			if err := monitor.Run(ctx); err != nil {
				return err
			}

			s := monitor.Snapshot()
			fmt.Fprintf(os.Stderr, "frames=%d dropped=%d unsupported=%d decode_errors=%d recorded=%d\n",
				s.Frames, s.Dropped, s.Unsupported, s.DecodeErrors, s.Recorded)
			return nil
		},
	}

	cmd.Flags().Int64Var(&count, "count", 0, "Exit after N frames (0 = until interrupted)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print per-frame lines")
	return cmd
}

func printFrame(f framestream.Frame) {
	h := f.Header
	fmt.Printf("%s index=%d %dx%d depth=%d bytes=%d file=%s\n",
		f.Received.Format("15:04:05.000"), h.Index, h.Rows, h.Cols, h.BitDepth, len(f.Payload), h.FileName)
}
