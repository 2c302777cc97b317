package main

import (
	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/config"
)

// createUninstallCommand creates the uninstall subcommand
func createUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall [flags] PACKAGE_NAME",
		Short: "Remove an installed retro package",
		Long: `Uninstall removes every registry entry for PACKAGE_NAME. Removing a package
that is not installed only logs a warning.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := newUninstaller(config.Global())
			if err != nil {
				return err
			}
			return u.Uninstall(commandContext(cmd), args[0])
		},
	}
}
