// Package launcher starts installed packages through an external game
// launcher and tracks launcher registrations.
package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-edge-platform/retros/internal/pkgmeta"
	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/logger"
	"github.com/open-edge-platform/retros/internal/utils/shell"
)

const (
	DefaultBinary    = "lutris"
	DefaultURIPrefix = "lutris://rungame/"
)

var (
	ErrLauncherUnavailable = fmt.Errorf("launcher unavailable: %w", errkind.ErrToolMissing)
	ErrLaunchFailed        = fmt.Errorf("launch failed: %w", errkind.ErrToolFailed)
)

// Launcher starts an installed package by name.
type Launcher interface {
	Launch(ctx context.Context, packageName string) error
}

// Registry records packages with the launcher so it can list them.
type Registry interface {
	Register(ctx context.Context, packageName string, d *pkgmeta.Descriptor) error
	Unregister(ctx context.Context, packageName string) error
}

// Lutris launches packages with "lutris lutris://rungame/<name>".
type Lutris struct {
	Exec      shell.Executor
	Binary    string
	URIPrefix string
}

func NewLutris(exec shell.Executor, binary, uriPrefix string) *Lutris {
	return &Lutris{Exec: exec, Binary: binary, URIPrefix: uriPrefix}
}

// URI returns the launch URI for packageName.
func (l *Lutris) URI(packageName string) string {
	prefix := l.URIPrefix
	if prefix == "" {
		prefix = DefaultURIPrefix
	}
	return prefix + packageName
}

func (l *Lutris) Launch(ctx context.Context, packageName string) error {
	log := logger.Logger()

	bin := l.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	exec := l.Exec
	if exec == nil {
		exec = shell.Default
	}

	log.Infof("Attempting to run %s via %s...", packageName, bin)
	_, err := exec.Run(ctx, bin, l.URI(packageName))
	switch {
	case err == nil:
		log.Infof("Successfully launched %s via %s", packageName, bin)
		return nil
	case errors.Is(err, errkind.ErrToolMissing):
		return fmt.Errorf("%w: %s not found, please ensure it is installed and in your PATH", ErrLauncherUnavailable, bin)
	case errors.Is(err, errkind.ErrToolFailed):
		return fmt.Errorf("%w: %s: %w", ErrLaunchFailed, packageName, err)
	default:
		return fmt.Errorf("failed to launch %s: %w", packageName, err)
	}
}

// Pending accepts registrations without configuring a launcher yet.
type Pending struct{}

func (Pending) Register(ctx context.Context, packageName string, d *pkgmeta.Descriptor) error {
	logger.Logger().Infof("Launcher registration for %s is pending", packageName)
	return nil
}

func (Pending) Unregister(ctx context.Context, packageName string) error {
	logger.Logger().Infof("Launcher unregistration for %s is pending", packageName)
	return nil
}
