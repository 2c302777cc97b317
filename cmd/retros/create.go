package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/config"
	"github.com/open-edge-platform/retros/internal/image/imagebuild"
	"github.com/open-edge-platform/retros/internal/image/imagecompress"
	"github.com/open-edge-platform/retros/internal/image/selfmount"
	"github.com/open-edge-platform/retros/internal/pkgmeta"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

type createOptions struct {
	name         string
	selfMounting bool
	outputDir    string
	compression  string
	templateFile string
	archive      string
}

// createCreateCommand creates the create subcommand
func createCreateCommand() *cobra.Command {
	opts := &createOptions{}

	createCmd := &cobra.Command{
		Use:   "create [flags] SOURCE",
		Short: "Create a retro package from a directory or file",
		Long: `Create copies SOURCE into a staging directory, adds the package descriptor
at meta/package.yaml and compresses the tree into <name>.squashfs.

With --self-mounting the image is appended to a shell stub, producing a single
<name>.run executable that mounts and runs itself. With --archive the image is
additionally compressed for distribution (<name>.squashfs.xz or .zst).`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeCreate(cmd, args[0], opts)
		},
	}

	createCmd.Flags().StringVarP(&opts.name, "name", "n", "",
		"Package name (default: base name of SOURCE)")
	createCmd.Flags().BoolVar(&opts.selfMounting, "self-mounting", false,
		"Build a self-mounting executable instead of a bare image")
	createCmd.Flags().StringVarP(&opts.outputDir, "output", "o", "",
		"Directory to write the package to (default: output_dir from config)")
	createCmd.Flags().StringVar(&opts.compression, "compression", "",
		"squashfs compression: gzip, lz4, lzo, xz or zstd (default: compression from config)")
	createCmd.Flags().StringVar(&opts.templateFile, "template", "",
		"Stub template for --self-mounting (default: built-in stub)")
	createCmd.Flags().StringVar(&opts.archive, "archive", "",
		"Compress the finished image for transport: xz or zstd")

	return createCmd
}

// defaultPackageName derives a package name from the source path.
func defaultPackageName(source string) string {
	base := pkgmeta.SourceName(source)
	if info, err := os.Stat(source); err == nil && info.Mode().IsRegular() {
		if ext := filepath.Ext(base); ext != "" && ext != base {
			base = strings.TrimSuffix(base, ext)
		}
	}
	return base
}

func executeCreate(cmd *cobra.Command, source string, opts *createOptions) error {
	log := logger.Logger()
	cfg := config.Global()

	name := opts.name
	if name == "" {
		name = defaultPackageName(source)
	}

	var archive imagecompress.Format
	if opts.archive != "" {
		f, err := imagecompress.ParseFormat(opts.archive)
		if err != nil {
			return usageError(err)
		}
		archive = f
	}
	if archive != imagecompress.FormatNone && opts.selfMounting {
		return usageError(fmt.Errorf("--archive cannot be combined with --self-mounting"))
	}
	if opts.templateFile != "" && !opts.selfMounting {
		return usageError(fmt.Errorf("--template requires --self-mounting"))
	}

	outputDir := opts.outputDir
	if outputDir == "" {
		dir, err := config.NewConfigHelpers(cfg).OutputDir()
		if err != nil {
			return fmt.Errorf("failed to resolve output directory: %w", err)
		}
		outputDir = dir
	}

	d := pkgmeta.New(name, source)
	if err := pkgmeta.Validate(d); err != nil {
		return usageError(fmt.Errorf("invalid package name %q: %w", name, err))
	}

	var (
		path string
		err  error
	)
	if opts.selfMounting {
		var tpl []byte
		if opts.templateFile != "" {
			if tpl, err = selfmount.LoadTemplate(opts.templateFile); err != nil {
				return err
			}
		}
		b := newSelfMountBuilder(cfg, opts.compression, tpl)
		path, err = b.BuildSelfMounting(commandContext(cmd), source, name, d, filepath.Join(outputDir, name+selfmount.Suffix))
	} else {
		b := newImageBuilder(cfg, opts.compression)
		path, err = b.BuildImage(commandContext(cmd), source, name, d, filepath.Join(outputDir, name+imagebuild.Suffix))
	}
	if err != nil {
		return fmt.Errorf("failed to create package %s: %w", name, err)
	}

	if archive != imagecompress.FormatNone {
		archived := path + archive.Suffix()
		log.Infof("Compressing %s with %s", path, archive)
		if err := imagecompress.Compress(path, archived, archive); err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}
		if err := os.Remove(path); err != nil {
			log.Warnf("Could not remove intermediate image %s: %v", path, err)
		}
		path = archived
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Package created at: %s\n", path)
	return nil
}
