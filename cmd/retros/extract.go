package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/image/imagebuild"
	"github.com/open-edge-platform/retros/internal/image/selfmount"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

var extractOutput string

// createExtractCommand creates the extract subcommand
func createExtractCommand() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract [flags] EXECUTABLE",
		Short: "Extract the squashfs image embedded in a self-mounting executable",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE:  executeExtract,
	}
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "",
		"Image file to write (default: <name>.squashfs in the current directory)")
	return extractCmd
}

func executeExtract(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	dst := extractOutput
	if dst == "" {
		name := strings.TrimSuffix(filepath.Base(args[0]), selfmount.Suffix)
		dst = name + imagebuild.Suffix
	}

	h, err := selfmount.ExtractImage(args[0], dst)
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", args[0], err)
	}
	log.Infof("Extracted %d bytes at offset %d from %s", h.Size, h.Offset, args[0])
	fmt.Fprintf(cmd.OutOrStdout(), "Image extracted to: %s\n", dst)
	return nil
}
