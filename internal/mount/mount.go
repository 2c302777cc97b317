// Package mount attaches squashfs images read-only through FUSE for the
// duration of a callback.
package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/logger"
	"github.com/open-edge-platform/retros/internal/utils/shell"
)

const (
	DefaultMountTool   = "squashfuse"
	DefaultUnmountTool = "fusermount"

	mountPointPrefix = "retros-mnt-"
)

// Options selects the helper binaries and where mount points are created.
type Options struct {
	MountTool   string
	UnmountTool string
	// TempDir hosts mount points; empty means os.TempDir().
	TempDir string
}

// Mounter runs the mount helper pair through an executor.
type Mounter struct {
	Exec    shell.Executor
	Options Options
}

func NewMounter(exec shell.Executor, opts Options) *Mounter {
	return &Mounter{Exec: exec, Options: opts}
}

func (m *Mounter) executor() shell.Executor {
	if m.Exec != nil {
		return m.Exec
	}
	return shell.Default
}

func (m *Mounter) mountTool() string {
	if m.Options.MountTool != "" {
		return m.Options.MountTool
	}
	return DefaultMountTool
}

func (m *Mounter) unmountTool() string {
	if m.Options.UnmountTool != "" {
		return m.Options.UnmountTool
	}
	return DefaultUnmountTool
}

// MountArgs returns the mount helper arguments for image at offset.
func MountArgs(image string, offset int64, dir string) []string {
	var args []string
	if offset > 0 {
		args = append(args, "-o", fmt.Sprintf("offset=%d", offset))
	}
	return append(args, image, dir)
}

// Mount attaches image, whose filesystem starts offset bytes into the file,
// at a new uniquely named directory and returns that directory.
func (m *Mounter) Mount(ctx context.Context, image string, offset int64) (string, error) {
	log := logger.Logger()

	base := m.Options.TempDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, mountPointPrefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create mount point: %w", err)
	}

	log.Debugf("Mounting %s (offset %d) at %s", image, offset, dir)
	if _, err := m.executor().Run(ctx, m.mountTool(), MountArgs(image, offset, dir)...); err != nil {
		os.Remove(dir)
		return "", fmt.Errorf("failed to mount %s: %w", image, classify(err))
	}
	return dir, nil
}

// Unmount detaches dir and removes the mount point.
func (m *Mounter) Unmount(ctx context.Context, dir string) error {
	log := logger.Logger()

	log.Debugf("Unmounting %s", dir)
	if _, err := m.executor().Run(ctx, m.unmountTool(), "-u", dir); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", dir, classify(err))
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove mount point %s: %w", dir, err)
	}
	return nil
}

// WithMount mounts image, calls fn with the mount root and always unmounts
// afterwards, even when ctx is already cancelled. An unmount failure is
// returned only when fn succeeded.
func (m *Mounter) WithMount(ctx context.Context, image string, offset int64, fn func(root string) error) (err error) {
	log := logger.Logger()

	dir, err := m.Mount(ctx, image, offset)
	if err != nil {
		return err
	}
	defer func() {
		uerr := m.Unmount(context.WithoutCancel(ctx), dir)
		if uerr == nil {
			return
		}
		if err == nil {
			err = uerr
			return
		}
		log.Warnf("%v", uerr)
	}()

	return fn(dir)
}

// classify marks helper failures that report a busy resource.
func classify(err error) error {
	var toolErr *errkind.ToolError
	if errors.As(err, &toolErr) && strings.Contains(strings.ToLower(toolErr.Stderr), "busy") {
		return fmt.Errorf("%w: %w", errkind.ErrResourceBusy, err)
	}
	return err
}
