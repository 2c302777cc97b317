package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/config"
)

// createInstallCommand creates the install subcommand
func createInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install [flags] PACKAGE_FILE",
		Short: "Install a retro package",
		Long: `Install mounts PACKAGE_FILE (.squashfs, .run, .squashfs.xz or .squashfs.zst)
read-only, checks the dependencies listed in its descriptor and copies it into
the registry directory.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: executeInstall,
	}
}

func executeInstall(cmd *cobra.Command, args []string) error {
	installer, err := newInstaller(config.Global(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if err := installer.Install(commandContext(cmd), args[0]); err != nil {
		return fmt.Errorf("failed to install %s: %w", args[0], err)
	}
	return nil
}
