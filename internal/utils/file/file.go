package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/open-edge-platform/retros/internal/utils/errkind"
)

const (
	DefaultDirMode  os.FileMode = 0755
	DefaultFileMode os.FileMode = 0644
)

// Exists reports whether path can be stat'ed without following a final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Copy copies src to dst. Directories are copied recursively, anything else
// as a single entry. Parent directories of dst are created. A missing src
// wraps errkind.ErrNotFound.
func Copy(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("source %s: %w", src, errkind.ErrNotFound)
		}
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), DefaultDirMode); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", dst, err)
	}

	if info.IsDir() {
		return CopyDir(src, dst)
	}
	return copyEntry(src, dst, info)
}

// CopyDir copies the tree rooted at src to dst, keeping file modes and
// recreating symlinks as symlinks.
func CopyDir(src, dst string) error {
	type dirMode struct {
		path string
		mode os.FileMode
	}
	var dirs []dirMode

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirs = append(dirs, dirMode{target, info.Mode().Perm()})
		}
		return copyEntry(path, target, info)
	})
	if err != nil {
		return err
	}

	// Directory modes are applied last so read-only directories can be filled.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chmod(dirs[i].path, dirs[i].mode); err != nil {
			return fmt.Errorf("failed to set mode on %s: %w", dirs[i].path, err)
		}
	}
	return nil
}

// CopyFile copies the regular file src to dst with the given mode.
func CopyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	// OpenFile applies the umask; set the exact bits.
	return os.Chmod(dst, mode)
}

func copyEntry(src, dst string, info fs.FileInfo) error {
	mode := info.Mode()
	switch {
	case mode.IsDir():
		if err := os.MkdirAll(dst, mode.Perm()|0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dst, err)
		}
		return nil
	case mode&os.ModeSymlink != 0:
		link, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("failed to read link %s: %w", src, err)
		}
		if err := os.Symlink(link, dst); err != nil {
			return fmt.Errorf("failed to create link %s: %w", dst, err)
		}
		return nil
	case mode.IsRegular():
		return CopyFile(src, dst, mode.Perm())
	default:
		return fmt.Errorf("unsupported file type %s at %s", mode.Type(), src)
	}
}
