package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/config"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

// Global flags
var (
	configFile  string
	logLevel    string
	verbose     bool
	registryDir string
)

func main() {
	rootCmd := createRootCommand()
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// createRootCommand builds the retros command tree.
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "retros",
		Short: "Package, install and run retro games as squashfs images",
		Long: `retros packages a game or program directory into a compressed squashfs
image carrying its own metadata, optionally fused with a stub script into a
single self-mounting executable. Installed packages are run through Lutris.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupEnvironment,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to configuration file (default: $XDG_CONFIG_HOME/retros/retros.yml, then ./retros.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().StringVar(&registryDir, "registry-dir", "",
		"Directory holding installed packages (overrides registry_dir)")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	rootCmd.AddCommand(createCreateCommand())
	rootCmd.AddCommand(createInstallCommand())
	rootCmd.AddCommand(createRunCommand())
	rootCmd.AddCommand(createUninstallCommand())
	rootCmd.AddCommand(createListCommand())
	rootCmd.AddCommand(createInfoCommand())
	rootCmd.AddCommand(createExtractCommand())
	rootCmd.AddCommand(createValidateCommand())
	rootCmd.AddCommand(createVersionCommand())

	return rootCmd
}

// setupEnvironment loads the configuration and initializes logging before
// any subcommand runs.
func setupEnvironment(cmd *cobra.Command, args []string) error {
	cfg, source, err := config.Load(config.LoadOptions{ConfigFile: configFile})
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return usageError(err)
		}
		return err
	}
	if registryDir != "" {
		cfg.RegistryDir = registryDir
	}

	level := cfg.Logging.Level
	if requested := resolveRequestedLogLevel(cmd); requested != "" {
		level = requested
	}
	if err := logger.Init(level); err != nil {
		return usageError(err)
	}
	cfg.Logging.Level = level
	config.SetGlobal(cfg)

	log := logger.Logger()
	if source != "" {
		log.Debugf("Using configuration from %s", source)
	} else {
		log.Debugf("No configuration file found, using defaults")
	}
	return nil
}

// resolveRequestedLogLevel returns the level asked for on the command line,
// or "" when neither --log-level nor --verbose was given.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if strings.TrimSpace(logLevel) != "" {
		return logLevel
	}
	if cmd != nil {
		if f := cmd.Flags().Lookup("verbose"); f != nil && f.Changed && f.Value.String() == "true" {
			return "debug"
		}
	}
	return ""
}
