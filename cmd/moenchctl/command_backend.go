package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mbi-div-b/go-moench-control/internal/orchestrator"
	"github.com/mbi-div-b/go-moench-control/internal/supervisor"
)

func newBackendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Manage the detector backend processes",
	}
	cmd.AddCommand(newBackendStartCmd(a))
	cmd.AddCommand(newBackendStopCmd(a))
	cmd.AddCommand(newBackendStatusCmd(a))
	return cmd
}

func newBackendStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the backend and leave it running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, _, err := orchestrator.NewBackend(a.cfg, a.logger, supervisor.Callbacks{})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if a.cfg.RestartBackend {
				if err := sup.Stop(ctx); err != nil {
					a.logger.Warn("backend_stale_stop_failed", "error", err)
				}
			}
			if _, err := sup.Start(ctx); err != nil {
				return err
			}
			if !sup.WaitUntilReady(ctx, a.cfg.ReadyAttempts, a.cfg.ReadyInterval) {
				printProcesses(sup.Processes(ctx))
				return fmt.Errorf("backend not ready after %d attempts", a.cfg.ReadyAttempts)
			}
			printProcesses(sup.Processes(ctx))
			return nil
		},
	}
}

func newBackendStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Kill every backend process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, _, err := orchestrator.NewBackend(a.cfg, a.logger, supervisor.Callbacks{})
			if err != nil {
				return err
			}
			return sup.Stop(cmd.Context())
		},
	}
}

func newBackendStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend process liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, _, err := orchestrator.NewBackend(a.cfg, a.logger, supervisor.Callbacks{})
			if err != nil {
				return err
			}
			procs := sup.Processes(cmd.Context())
			printProcesses(procs)
			for _, p := range procs {
				if !p.Alive {
					return fmt.Errorf("backend not ready: %s is not running", p.Name)
				}
			}
			return nil
		},
	}
}

func printProcesses(procs []supervisor.ProcessHandle) {
	sort.Slice(procs, func(i, j int) bool { return procs[i].Name < procs[j].Name })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROCESS\tALIVE\tPIDS")
	for _, p := range procs {
		pids := make([]string, len(p.PIDs))
		for i, pid := range p.PIDs {
			pids[i] = fmt.Sprint(pid)
		}
		fmt.Fprintf(w, "%s\t%t\t%s\n", p.Name, p.Alive, strings.Join(pids, ","))
	}
	_ = w.Flush()
}
