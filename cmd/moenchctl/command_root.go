package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mbi-div-b/go-moench-control/internal/config"
	"github.com/mbi-div-b/go-moench-control/internal/logging"
)

// app carries the resolved configuration and logger into subcommands.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
}

func NewRootCmd() *cobra.Command {
	a := &app{cfg: config.DefaultConfig()}

	root := &cobra.Command{
		Use:           "moenchctl",
		Short:         "MOENCH acquisition orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolve(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	config.RegisterAll(root.PersistentFlags(), a.cfg)

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newBackendCmd(a))
	root.AddCommand(newFramesCmd(a))
	root.AddCommand(newPreflightCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newVersionCmd())

	return root
}

// resolve layers the config file under the flags, validates the result
// and builds the logger. With the dashboard enabled, logs are discarded
// so they do not tear the screen.
func (a *app) resolve(cmd *cobra.Command) error {
	if err := config.Resolve(cmd.Flags(), a.cfg, a.configPath); err != nil {
		return err
	}
	if err := config.Validate(a.cfg); err != nil {
		return err
	}

	if a.cfg.TUI && cmd.Name() == "run" {
		a.logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		a.logger = logging.NewLogger(a.cfg.LogFormat, a.cfg.LogLevel, a.cfg.Verbose)
	}
	logging.SetDefault(a.logger)
	return nil
}
