// Package pkgmgr implements the install, run and uninstall lifecycle of
// retros packages on the target machine.
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/retros/internal/depcheck"
	"github.com/open-edge-platform/retros/internal/image/imagecompress"
	"github.com/open-edge-platform/retros/internal/image/selfmount"
	"github.com/open-edge-platform/retros/internal/launcher"
	"github.com/open-edge-platform/retros/internal/mount"
	"github.com/open-edge-platform/retros/internal/pkgmeta"
	"github.com/open-edge-platform/retros/internal/registry"
	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

var (
	ErrUnsupportedArtifact = errors.New("unsupported artifact")
	ErrNoRegistry          = errors.New("no install registry configured")
)

// Form is the on-disk shape of an artifact handed to Install.
type Form int

const (
	FormUnknown Form = iota
	FormImage
	FormExecutable
	FormCompressed
)

var suffixes = []struct {
	suffix string
	form   Form
}{
	{".squashfs" + imagecompress.FormatXZ.Suffix(), FormCompressed},
	{".squashfs" + imagecompress.FormatZstd.Suffix(), FormCompressed},
	{string(registry.KindImage), FormImage},
	{string(registry.KindExecutable), FormExecutable},
}

// PackageName derives the package name and form from an artifact path.
func PackageName(artifactPath string) (string, Form) {
	base := filepath.Base(artifactPath)
	for _, s := range suffixes {
		if name, ok := strings.CutSuffix(base, s.suffix); ok && name != "" {
			return name, s.form
		}
	}
	return "", FormUnknown
}

// Mounter attaches an image for the duration of fn.
type Mounter interface {
	WithMount(ctx context.Context, image string, offset int64, fn func(root string) error) error
}

// Installer installs artifacts into a registry.
type Installer struct {
	Registry  *registry.Registry
	Mounter   Mounter
	Deps      depcheck.Manager
	Launchers launcher.Registry
	// TempDir hosts decompressed transport images; empty means os.TempDir().
	TempDir string
}

func (i *Installer) mounter() Mounter {
	if i.Mounter != nil {
		return i.Mounter
	}
	return mount.NewMounter(nil, mount.Options{TempDir: i.TempDir})
}

func (i *Installer) deps() depcheck.Manager {
	if i.Deps != nil {
		return i.Deps
	}
	return &depcheck.Placeholder{}
}

func (i *Installer) launchers() launcher.Registry {
	if i.Launchers != nil {
		return i.Launchers
	}
	return launcher.Pending{}
}

// Install validates the artifact at artifactPath, checks its dependencies
// and copies it into the registry.
func (i *Installer) Install(ctx context.Context, artifactPath string) error {
	log := logger.Logger()

	if i.Registry == nil {
		return ErrNoRegistry
	}
	info, err := os.Stat(artifactPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("package file %s: %w", artifactPath, errkind.ErrNotFound)
		}
		return fmt.Errorf("failed to stat %s: %w", artifactPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrUnsupportedArtifact, artifactPath)
	}

	name, form := PackageName(artifactPath)
	if form == FormUnknown {
		return fmt.Errorf("%w: %s (expected .squashfs, .run, .squashfs.xz or .squashfs.zst)", ErrUnsupportedArtifact, artifactPath)
	}
	log.Infof("Installing package %s from %s", name, artifactPath)

	imagePath := artifactPath
	kind := registry.KindImage
	var offset int64

	switch form {
	case FormCompressed:
		workDir, err := os.MkdirTemp(i.TempDir, "retros-install-")
		if err != nil {
			return fmt.Errorf("failed to create work directory: %w", err)
		}
		defer os.RemoveAll(workDir)

		imagePath = filepath.Join(workDir, name+string(registry.KindImage))
		format, err := imagecompress.Decompress(artifactPath, imagePath)
		if err != nil {
			return fmt.Errorf("failed to decompress %s: %w", artifactPath, err)
		}
		log.Debugf("Decompressed %s transport artifact to %s", format, imagePath)
	case FormExecutable:
		kind = registry.KindExecutable
		img, err := selfmount.OpenImage(artifactPath)
		if err != nil {
			return fmt.Errorf("failed to read executable layout: %w", err)
		}
		offset = img.Header.Offset
		img.Close()
	}

	var d *pkgmeta.Descriptor
	err = i.mounter().WithMount(ctx, imagePath, offset, func(root string) error {
		desc, rel, err := pkgmeta.Read(root)
		if errors.Is(err, errkind.ErrNotFound) {
			log.Warnf("%s not found in %s. Cannot check dependencies.", pkgmeta.MetadataPath, artifactPath)
			return nil
		}
		if err != nil {
			return err
		}
		log.Debugf("Read package metadata from %s", rel)
		d = desc
		return nil
	})
	if err != nil {
		return err
	}

	if d != nil && len(d.Dependencies) > 0 {
		if err := i.ensureDependencies(ctx, d.Dependencies); err != nil {
			return err
		}
	}

	dst, err := i.Registry.Add(ctx, imagePath, name, kind)
	if err != nil {
		return fmt.Errorf("failed to copy package into registry: %w", err)
	}
	log.Infof("Package %s installed to %s", name, dst)

	if err := i.launchers().Register(ctx, name, d); err != nil {
		return fmt.Errorf("failed to register %s with the launcher: %w", name, err)
	}
	return nil
}

func (i *Installer) ensureDependencies(ctx context.Context, deps []string) error {
	log := logger.Logger()

	missing, err := i.deps().Check(ctx, deps)
	if err != nil {
		return fmt.Errorf("failed to check dependencies: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	log.Infof("Missing dependencies: %v", missing)
	if err := i.deps().Install(ctx, missing); err != nil {
		return fmt.Errorf("failed to install dependencies, aborting package installation: %w", err)
	}
	log.Infof("Dependencies installed. Proceeding with package installation.")
	return nil
}

// Runner launches installed packages.
type Runner struct {
	Launcher launcher.Launcher
	// Registry, when set, rejects names that are not installed.
	Registry *registry.Registry
}

func (r *Runner) Run(ctx context.Context, packageName string) error {
	if r.Registry != nil {
		if _, err := r.Registry.Find(packageName); err != nil {
			return err
		}
	}
	l := r.Launcher
	if l == nil {
		l = launcher.NewLutris(nil, "", "")
	}
	return l.Launch(ctx, packageName)
}

// Uninstaller removes installed packages.
type Uninstaller struct {
	Registry  *registry.Registry
	Launchers launcher.Registry
}

// Uninstall removes every registry entry for packageName. An unknown name is
// reported as a warning and is not an error.
func (u *Uninstaller) Uninstall(ctx context.Context, packageName string) error {
	log := logger.Logger()

	if u.Registry == nil {
		return ErrNoRegistry
	}
	var launchers launcher.Registry = launcher.Pending{}
	if u.Launchers != nil {
		launchers = u.Launchers
	}
	if err := launchers.Unregister(ctx, packageName); err != nil {
		return fmt.Errorf("failed to unregister %s from the launcher: %w", packageName, err)
	}

	removed, err := u.Registry.Remove(packageName)
	if err != nil {
		return fmt.Errorf("failed to uninstall %s: %w", packageName, err)
	}
	if len(removed) == 0 {
		log.Warnf("Package %s not found in %s", packageName, u.Registry.Dir())
		return nil
	}
	for _, p := range removed {
		log.Infof("Removed %s", p)
	}
	log.Infof("Package %s uninstalled", packageName)
	return nil
}
