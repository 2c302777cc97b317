// Package imagebuild stages content plus its descriptor and seals them into
// a squashfs image with the system compressor.
package imagebuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/retros/internal/image/imageinspect"
	"github.com/open-edge-platform/retros/internal/pkgmeta"
	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/file"
	"github.com/open-edge-platform/retros/internal/utils/logger"
	"github.com/open-edge-platform/retros/internal/utils/shell"
)

const (
	DefaultCompressor = "mksquashfs"
	DefaultInspector  = "file"

	// Suffix is the file extension of bare images.
	Suffix = ".squashfs"
)

// ErrBuildFailed is returned when the compressor exits non-zero. The
// wrapped *errkind.ToolError carries its output.
var ErrBuildFailed = errors.New("image build failed")

// ErrMetadataConflict is returned when the staged source would occupy the
// path reserved for the package descriptor.
var ErrMetadataConflict = errors.New("source conflicts with package metadata path")

// Options tunes how images are built.
type Options struct {
	// Compressor is the mksquashfs compatible binary.
	Compressor string
	// Inspector is the file(1) compatible binary used for verification.
	Inspector string
	// Compression is passed as -comp when non-empty.
	Compression string
	// ExtraArgs are appended to the compressor command line.
	ExtraArgs []string
	// TempDir hosts the staging directory; empty means os.TempDir().
	TempDir string
	// SkipVerify disables the post-build checks.
	SkipVerify bool
}

// Builder builds squashfs images.
type Builder struct {
	Exec    shell.Executor
	Options Options
}

// NewBuilder returns a Builder running tools through exec, or shell.Default
// when exec is nil.
func NewBuilder(exec shell.Executor, opts Options) *Builder {
	return &Builder{Exec: exec, Options: opts}
}

func (b *Builder) executor() shell.Executor {
	if b.Exec != nil {
		return b.Exec
	}
	return shell.Default
}

func (b *Builder) compressor() string {
	if b.Options.Compressor != "" {
		return b.Options.Compressor
	}
	return DefaultCompressor
}

func (b *Builder) inspector() string {
	if b.Options.Inspector != "" {
		return b.Options.Inspector
	}
	return DefaultInspector
}

// BuildImage copies sourcePath into a scoped staging directory, writes d
// (or the default descriptor for packageName when d is nil) at
// meta/package.yaml and compresses the tree to outputPath, which defaults to
// "<packageName>.squashfs". It returns the absolute image path.
func (b *Builder) BuildImage(ctx context.Context, sourcePath, packageName string, d *pkgmeta.Descriptor, outputPath string) (string, error) {
	log := logger.Logger()

	if packageName == "" {
		return "", fmt.Errorf("package name is required")
	}
	sourcePath, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve source path: %w", err)
	}
	if _, err := os.Lstat(sourcePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("source %s: %w", sourcePath, errkind.ErrNotFound)
		}
		return "", fmt.Errorf("failed to stat source %s: %w", sourcePath, err)
	}

	if outputPath == "" {
		outputPath = packageName + Suffix
	}
	outputPath, err = filepath.Abs(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), file.DefaultDirMode); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	staging, err := os.MkdirTemp(b.Options.TempDir, "retros-stage-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	base := filepath.Base(sourcePath)
	if base == pkgmeta.MetadataDir || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %s", ErrMetadataConflict, sourcePath)
	}

	log.Infof("Staging %s for package %s", sourcePath, packageName)
	if err := file.Copy(sourcePath, filepath.Join(staging, base)); err != nil {
		return "", fmt.Errorf("failed to stage source: %w", err)
	}

	if d == nil {
		d = pkgmeta.New(packageName, sourcePath)
	}
	if _, err := pkgmeta.Write(staging, d); err != nil {
		return "", fmt.Errorf("failed to write package metadata: %w", err)
	}

	args := []string{staging, outputPath, "-no-progress", "-noappend"}
	if b.Options.Compression != "" {
		args = append(args, "-comp", b.Options.Compression)
	}
	args = append(args, b.Options.ExtraArgs...)

	log.Infof("Creating image %s", outputPath)
	if _, err := b.executor().Run(ctx, b.compressor(), args...); err != nil {
		if errors.Is(err, errkind.ErrToolMissing) {
			return "", fmt.Errorf("failed to build image: %w", err)
		}
		os.Remove(outputPath)
		if errors.Is(err, errkind.ErrToolFailed) {
			var toolErr *errkind.ToolError
			if errors.As(err, &toolErr) {
				log.Debugf("%s output:\n%s%s", toolErr.Tool, toolErr.Stdout, toolErr.Stderr)
			}
			return "", fmt.Errorf("%w: %w", ErrBuildFailed, err)
		}
		return "", fmt.Errorf("failed to build image: %w", err)
	}

	if !b.Options.SkipVerify {
		b.verify(ctx, outputPath)
	}

	log.Infof("Image created at %s", outputPath)
	return outputPath, nil
}

// verify logs a warning when the image does not look like squashfs. It never
// fails the build.
func (b *Builder) verify(ctx context.Context, imagePath string) {
	log := logger.Logger()

	res, err := b.executor().Run(ctx, b.inspector(), imagePath)
	switch {
	case err != nil:
		log.Warnf("Could not verify %s with %s: %v", imagePath, b.inspector(), err)
	case !strings.Contains(res.Stdout, "Squashfs"):
		log.Warnf("%s does not report a Squashfs filesystem: %s", b.inspector(), strings.TrimSpace(res.Stdout))
	default:
		log.Debugf("Verified image: %s", strings.TrimSpace(res.Stdout))
	}

	f, err := os.Open(imagePath)
	if err != nil {
		log.Warnf("Could not open %s for verification: %v", imagePath, err)
		return
	}
	defer f.Close()
	ok, err := imageinspect.HasSquashfsMagic(f, 0)
	if err != nil {
		log.Warnf("Could not read signature of %s: %v", imagePath, err)
	} else if !ok {
		log.Warnf("%s does not start with the squashfs signature", imagePath)
	}
}
