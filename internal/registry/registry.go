// Package registry manages the flat directory of installed artifacts.
//
// Each installed package is exactly one file, <name>.squashfs or <name>.run.
// Files are written through a temporary file and renamed into place, never
// modified afterwards.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/file"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

// Kind is the artifact form of an entry, spelled as its file suffix.
type Kind string

const (
	KindImage      Kind = ".squashfs"
	KindExecutable Kind = ".run"
)

// Kinds lists every kind the registry stores.
var Kinds = []Kind{KindImage, KindExecutable}

var ErrInvalidName = errors.New("invalid package name")

// Entry is one installed artifact.
type Entry struct {
	Name    string
	Kind    Kind
	Path    string
	Size    int64
	ModTime time.Time
}

// Registry is an install directory.
type Registry struct {
	dir string
	// Progress receives a copy progress bar when non-nil.
	Progress io.Writer
}

func New(dir string) *Registry {
	return &Registry{dir: dir}
}

func (r *Registry) Dir() string {
	return r.dir
}

// PathFor returns where name of the given kind is stored.
func (r *Registry) PathFor(name string, kind Kind) string {
	return filepath.Join(r.dir, name+string(kind))
}

// KindOf splits a registry file name into package name and kind.
func KindOf(fileName string) (string, Kind, bool) {
	base := filepath.Base(fileName)
	for _, k := range Kinds {
		if name, ok := strings.CutSuffix(base, string(k)); ok && name != "" {
			return name, k, true
		}
	}
	return "", "", false
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, filepath.Separator) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Add copies src into the registry as name of the given kind, replacing any
// previous entry for name. It returns the installed path.
func (r *Registry) Add(ctx context.Context, src, name string, kind Kind) (string, error) {
	log := logger.Logger()

	if err := checkName(name); err != nil {
		return "", err
	}
	if kind != KindImage && kind != KindExecutable {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("artifact %s: %w", src, errkind.ErrNotFound)
		}
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}

	if err := os.MkdirAll(r.dir, file.DefaultDirMode); err != nil {
		return "", fmt.Errorf("failed to create registry directory %s: %w", r.dir, err)
	}

	tmp, err := os.CreateTemp(r.dir, "."+name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file in registry: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	var w io.Writer = tmp
	var bar *progressbar.ProgressBar
	if r.Progress != nil {
		bar = progressbar.NewOptions64(info.Size(),
			progressbar.OptionSetWriter(r.Progress),
			progressbar.OptionSetDescription("installing "+name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		w = io.MultiWriter(tmp, bar)
	}

	n, err := io.Copy(w, &ctxReader{ctx: ctx, r: in})
	if err != nil {
		return "", fmt.Errorf("failed to copy artifact into registry: %w", err)
	}
	if n != info.Size() {
		return "", fmt.Errorf("short copy into registry: %d of %d bytes", n, info.Size())
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(r.Progress)
	}

	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("failed to set mode on registry entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync registry entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close registry entry: %w", err)
	}

	dst := r.PathFor(name, kind)
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", fmt.Errorf("failed to move entry into registry: %w", err)
	}
	committed = true

	for _, k := range Kinds {
		if k == kind {
			continue
		}
		stale := r.PathFor(name, k)
		if err := os.Remove(stale); err == nil {
			log.Infof("Replaced previous entry %s", stale)
		}
	}

	log.Debugf("Copied %d bytes to %s", n, dst)
	return dst, nil
}

// Remove deletes every entry for name and returns the removed paths. No
// entry is not an error.
func (r *Registry) Remove(name string) ([]string, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	var removed []string
	for _, k := range Kinds {
		p := r.PathFor(name, k)
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = append(removed, p)
		case errors.Is(err, os.ErrNotExist):
		default:
			return removed, fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return removed, nil
}

// Find returns the entry for name, or an error wrapping errkind.ErrNotFound.
func (r *Registry) Find(name string) (*Entry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	for _, k := range Kinds {
		p := r.PathFor(name, k)
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return &Entry{Name: name, Kind: k, Path: p, Size: info.Size(), ModTime: info.ModTime()}, nil
		}
	}
	return nil, fmt.Errorf("package %s is not installed: %w", name, errkind.ErrNotFound)
}

// List returns every entry sorted by name. A missing registry directory is
// an empty registry.
func (r *Registry) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read registry %s: %w", r.dir, err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		name, kind, ok := KindOf(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    name,
			Kind:    kind,
			Path:    filepath.Join(r.dir, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Kind < entries[j].Kind
	})
	return entries, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
