package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/config"
	"github.com/open-edge-platform/retros/internal/depcheck"
	"github.com/open-edge-platform/retros/internal/image/imagebuild"
	"github.com/open-edge-platform/retros/internal/image/imageinspect"
	"github.com/open-edge-platform/retros/internal/image/selfmount"
	"github.com/open-edge-platform/retros/internal/launcher"
	"github.com/open-edge-platform/retros/internal/mount"
	"github.com/open-edge-platform/retros/internal/pkgmgr"
	"github.com/open-edge-platform/retros/internal/registry"
	"github.com/open-edge-platform/retros/internal/utils/shell"
)

type inspector interface {
	Inspect(path string) (*imageinspect.Summary, error)
}

// Injection points replaced in tests.
var (
	newExecutor = func() shell.Executor { return shell.Default }

	newInspector = func() inspector {
		return imageinspect.NewDiskfsInspector(config.NewConfigHelpers(config.Global()).TempDir())
	}

	newLauncherRegistry = func() launcher.Registry { return launcher.Pending{} }
)

func newImageBuilder(cfg *config.Config, compression string) *imagebuild.Builder {
	if compression == "" {
		compression = cfg.Compression
	}
	return imagebuild.NewBuilder(newExecutor(), imagebuild.Options{
		Compressor:  cfg.Tools.Compressor,
		Inspector:   cfg.Tools.Inspect,
		Compression: compression,
		TempDir:     config.NewConfigHelpers(cfg).TempDir(),
	})
}

func newSelfMountBuilder(cfg *config.Config, compression string, template []byte) *selfmount.Builder {
	return &selfmount.Builder{
		Images:   newImageBuilder(cfg, compression),
		Template: template,
		TempDir:  config.NewConfigHelpers(cfg).TempDir(),
	}
}

func newRegistry(cfg *config.Config, progress io.Writer) (*registry.Registry, error) {
	dir, err := config.NewConfigHelpers(cfg).RegistryDir()
	if err != nil {
		return nil, err
	}
	r := registry.New(dir)
	if cfg.Progress {
		r.Progress = progress
	}
	return r, nil
}

func newInstaller(cfg *config.Config, out, progress io.Writer) (*pkgmgr.Installer, error) {
	reg, err := newRegistry(cfg, progress)
	if err != nil {
		return nil, err
	}
	exec := newExecutor()
	deps, err := depcheck.New(cfg.Dependencies.Manager, exec, out)
	if err != nil {
		return nil, err
	}
	tempDir := config.NewConfigHelpers(cfg).TempDir()
	return &pkgmgr.Installer{
		Registry: reg,
		Mounter: mount.NewMounter(exec, mount.Options{
			MountTool:   cfg.Tools.Mount,
			UnmountTool: cfg.Tools.Unmount,
			TempDir:     tempDir,
		}),
		Deps:      deps,
		Launchers: newLauncherRegistry(),
		TempDir:   tempDir,
	}, nil
}

func newRunner(cfg *config.Config) (*pkgmgr.Runner, error) {
	reg, err := newRegistry(cfg, nil)
	if err != nil {
		return nil, err
	}
	return &pkgmgr.Runner{
		Launcher: launcher.NewLutris(newExecutor(), cfg.Tools.Launcher, cfg.Launcher.URIPrefix),
		Registry: reg,
	}, nil
}

func newUninstaller(cfg *config.Config) (*pkgmgr.Uninstaller, error) {
	reg, err := newRegistry(cfg, nil)
	if err != nil {
		return nil, err
	}
	return &pkgmgr.Uninstaller{Registry: reg, Launchers: newLauncherRegistry()}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
