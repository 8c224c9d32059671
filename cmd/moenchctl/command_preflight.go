package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/mbi-div-b/go-moench-control/internal/preflight"
)

func newPreflightCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check the host before starting the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := preflight.RunAll(a.cfg)
			preflight.PrintResults(result)
			if !result.Passed {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
}
