package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbi-div-b/go-moench-control/internal/config"
	"github.com/mbi-div-b/go-moench-control/internal/orchestrator"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the backend and run the acquisition controller",
		Long: `Start the backend processes, initialize the acquisition controller and
serve metrics until interrupted. --acquire and --pedestal run acquisitions
right after init; without --duration or --tui the command exits when they finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			a.logger.Info("starting",
				"version", version,
				"backend", cfg.Backend,
				"metrics_addr", cfg.MetricsAddr,
				"stream", cfg.StreamEnabled,
			)
			if !cfg.TUI {
				printBanner(cfg)
			}

			orch, err := orchestrator.New(cfg, version, a.logger)
			if err != nil {
				return err
			}
			return orch.Run(cmd.Context())
		},
	}
	return cmd
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                            moenchctl                              ║")
	fmt.Println("║          MOENCH detector backend and acquisition control          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Backend:     %s (%s)\n", cfg.Backend, cfg.ConfigFile())
	fmt.Printf("  Receiver:    %s on port %d\n", cfg.ReceiverBinary, cfg.ReceiverPort)
	if cfg.Acquire > 0 || cfg.Pedestal {
		fmt.Printf("  Script:      pedestal=%t acquisitions=%d\n", cfg.Pedestal, cfg.Acquire)
	}
	if cfg.StreamEnabled {
		fmt.Printf("  Stream:      tcp://%s:%d\n", cfg.StreamIP, cfg.StreamPort)
	}
	fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}
