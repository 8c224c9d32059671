package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbi-div-b/go-moench-control/internal/metrics"
)

func newStatusCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running moenchctl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.MetricsAddr
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			st, err := metrics.NewStatusClient(addr).Fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetch status from %s: %w", addr, err)
			}
			printStatus(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Metrics address of the running instance (default --metrics)")
	return cmd
}

func printStatus(st *metrics.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "State:\t%s\n", st.ControllerState)
	fmt.Fprintf(w, "Run State:\t%s\n", st.RunState)
	fmt.Fprintf(w, "Ready:\t%t\n", st.Ready)
	fmt.Fprintf(w, "Backend Ready:\t%t\n", st.BackendReady)

	names := make([]string, 0, len(st.Processes))
	for name := range st.Processes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s:\t%t\n", name, st.Processes[name])
	}

	fmt.Fprintf(w, "In Flight:\t%t\n", st.InFlight)
	fmt.Fprintf(w, "File Index:\t%d\n", st.FileIndex)

	keys := make([]string, 0, len(st.Acquisitions))
	for k := range st.Acquisitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "Acquisitions %s:\t%.0f\n", k, st.Acquisitions[k])
	}
	if st.DurationP50 > 0 {
		fmt.Fprintf(w, "Duration P50:\t%s\n", st.DurationP50.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Frames:\t%.0f received, %.0f dropped\n", st.FramesReceived, st.FramesDropped)
	fmt.Fprintf(w, "Uptime:\t%s\n", st.Uptime.Round(time.Second))
	_ = w.Flush()
}
