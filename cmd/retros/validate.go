package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/config"
	"github.com/open-edge-platform/retros/internal/config/validate"
	"github.com/open-edge-platform/retros/internal/pkgmeta"
	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [flags] DESCRIPTOR_FILE",
		Short: "Validate a package descriptor file",
		Long: `Validate a package descriptor (meta/package.yaml, or a legacy metadata.json)
against the descriptor schema without building anything.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: executeValidate,
	}
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	descriptorFile := args[0]

	log.Infof("validating descriptor file: %s", descriptorFile)

	data, err := os.ReadFile(descriptorFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", descriptorFile, errkind.ErrNotFound)
		}
		return fmt.Errorf("failed to read %s: %w", descriptorFile, err)
	}

	d, err := pkgmeta.Decode(data)
	if err != nil {
		return fmt.Errorf("descriptor validation failed: %w", err)
	}
	if err := validate.ValidatePackageYAML(data); err != nil {
		return fmt.Errorf("descriptor validation failed: %w: %v", errkind.ErrMalformedMetadata, err)
	}

	log.Infof("✓ Descriptor validation successful for %s", descriptorFile)
	log.Infof("Package: %s v%s", d.Name, d.Version)
	if verbose || config.NewConfigHelpers(config.Global()).IsDebugMode() {
		log.Infof("Emulator: %s (%s)", d.Emulator, d.EmulatorPath)
		log.Infof("Run command: %s", d.RunCommand)
		if len(d.Dependencies) > 0 {
			log.Infof("  Dependencies:")
			for _, dep := range d.Dependencies {
				log.Infof("    - %s", dep)
			}
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", descriptorFile)
	return nil
}
