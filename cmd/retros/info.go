package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/image/imageinspect"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

var infoFormat outputFormat

// createInfoCommand creates the info subcommand
func createInfoCommand() *cobra.Command {
	infoCmd := &cobra.Command{
		Use:   "info [flags] ARTIFACT",
		Short: "Show the layout and descriptor of a package file",
		Long: `Info reads a .squashfs image, a .run executable or a compressed transport
artifact without mounting it and prints its superblock summary and package
descriptor.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: executeInfo,
	}
	addFormatFlag(infoCmd.Flags(), &infoFormat)
	return infoCmd
}

func executeInfo(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	log.Debugf("Inspecting %s", args[0])

	summary, err := newInspector().Inspect(args[0])
	if err != nil {
		return fmt.Errorf("inspection failed: %w", err)
	}

	if infoFormat == formatJSON {
		b, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return err
	}
	imageinspect.RenderText(cmd.OutOrStdout(), summary)
	return nil
}
