package main

import (
	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/config"
)

// createRunCommand creates the run subcommand
func createRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [flags] PACKAGE_NAME",
		Short: "Run an installed retro package through Lutris",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := newRunner(config.Global())
			if err != nil {
				return err
			}
			return runner.Run(commandContext(cmd), args[0])
		},
	}
}
