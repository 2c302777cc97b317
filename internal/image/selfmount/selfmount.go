// Package selfmount fuses a shell stub and a squashfs image into a single
// self-mounting executable and reads that layout back.
//
// Layout of a built file:
//
//	[ stub bytes ][ image bytes ]
//	0             offset          offset+size == file size
//
// The stub records the image offset as a zero-padded decimal of OffsetWidth
// digits so that substituting the value never changes the stub length.
package selfmount

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/open-edge-platform/retros/internal/pkgmeta"
	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

const (
	TokenName   = "$PACKAGE_NAME$"
	TokenSize   = "$SQUASHFS_SIZE$"
	TokenOffset = "$SQUASHFS_OFFSET$"

	// OffsetWidth is the number of digits the offset token is replaced with.
	OffsetWidth = 20

	// Suffix is the file extension of self-mounting executables.
	Suffix = ".run"

	// MaxStubSize is the largest stub Render produces and ReadHeader scans.
	MaxStubSize = 1 << 20
)

var (
	ErrInvalidTemplate = errors.New("invalid stub template")
	ErrInvalidName     = errors.New("invalid package name")
	ErrInvalidLayout   = errors.New("not a self-mounting executable")
)

//go:embed templates/stub.sh
var defaultTemplate []byte

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// ImageBuilder produces the squashfs image embedded in the executable.
type ImageBuilder interface {
	BuildImage(ctx context.Context, sourcePath, packageName string, d *pkgmeta.Descriptor, outputPath string) (string, error)
}

// Builder builds self-mounting executables.
type Builder struct {
	Images ImageBuilder
	// Template replaces the embedded stub when non-nil.
	Template []byte
	// TempDir hosts the intermediate image; empty means os.TempDir().
	TempDir string
}

// Header is the layout information recorded in a stub.
type Header struct {
	Name     string
	Size     int64
	Offset   int64
	FileSize int64
}

// DefaultTemplate returns a copy of the embedded stub.
func DefaultTemplate() []byte {
	return bytes.Clone(defaultTemplate)
}

// LoadTemplate reads and validates a stub template file.
func LoadTemplate(path string) ([]byte, error) {
	tpl, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stub template %s: %w", path, errkind.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read stub template: %w", err)
	}
	if err := ValidateTemplate(tpl); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tpl, nil
}

// ValidateTemplate checks that each token appears exactly once.
func ValidateTemplate(tpl []byte) error {
	for _, token := range []string{TokenName, TokenSize, TokenOffset} {
		if n := bytes.Count(tpl, []byte(token)); n != 1 {
			return fmt.Errorf("%w: %s appears %d times, want exactly once", ErrInvalidTemplate, token, n)
		}
	}
	return nil
}

// Render substitutes name and size into tpl, then the offset. The returned
// offset always equals len(stub).
func Render(tpl []byte, name string, size int64) ([]byte, int64, error) {
	if err := ValidateTemplate(tpl); err != nil {
		return nil, 0, err
	}
	if !namePattern.MatchString(name) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if size < 0 {
		return nil, 0, fmt.Errorf("negative image size %d", size)
	}

	stub := bytes.Replace(tpl, []byte(TokenName), []byte(name), 1)
	stub = bytes.Replace(stub, []byte(TokenSize), []byte(strconv.FormatInt(size, 10)), 1)

	offset := int64(len(stub) - len(TokenOffset) + OffsetWidth)
	stub = bytes.Replace(stub, []byte(TokenOffset), []byte(fmt.Sprintf("%0*d", OffsetWidth, offset)), 1)

	if int64(len(stub)) != offset {
		return nil, 0, fmt.Errorf("stub length %d does not match offset %d", len(stub), offset)
	}
	if offset > MaxStubSize {
		return nil, 0, fmt.Errorf("%w: stub is %d bytes, limit is %d", ErrInvalidTemplate, offset, MaxStubSize)
	}
	return stub, offset, nil
}

// BuildSelfMounting builds an image of sourcePath in a scoped temporary
// directory and writes stub || image to outputPath (default "<name>.run").
// It returns the absolute path of the executable.
func (b *Builder) BuildSelfMounting(ctx context.Context, sourcePath, packageName string, d *pkgmeta.Descriptor, outputPath string) (string, error) {
	log := logger.Logger()

	if b.Images == nil {
		return "", fmt.Errorf("self-mounting builder has no image builder")
	}
	tpl := b.Template
	if tpl == nil {
		tpl = defaultTemplate
	}
	if err := ValidateTemplate(tpl); err != nil {
		return "", err
	}
	if !namePattern.MatchString(packageName) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, packageName)
	}

	if outputPath == "" {
		outputPath = packageName + Suffix
	}
	outputPath, err := filepath.Abs(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	workDir, err := os.MkdirTemp(b.TempDir, "retros-selfmount-")
	if err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	log.Infof("Building image for self-mounting executable %s", packageName)
	imagePath, err := b.Images.BuildImage(ctx, sourcePath, packageName, d, filepath.Join(workDir, packageName+".squashfs"))
	if err != nil {
		return "", err
	}

	info, err := os.Stat(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}

	stub, offset, err := Render(tpl, packageName, info.Size())
	if err != nil {
		return "", err
	}
	log.Debugf("Stub is %d bytes, image %d bytes", offset, info.Size())

	if err := assemble(outputPath, stub, imagePath, info.Size()); err != nil {
		os.Remove(outputPath)
		return "", err
	}

	log.Infof("Self-mounting executable created at %s", outputPath)
	return outputPath, nil
}

func assemble(outputPath string, stub []byte, imagePath string, imageSize int64) error {
	img, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer img.Close()

	out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("failed to create executable: %w", err)
	}
	if _, err := out.Write(stub); err != nil {
		out.Close()
		return fmt.Errorf("failed to write stub: %w", err)
	}
	n, err := io.Copy(out, img)
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to write image: %w", err)
	}
	if n != imageSize {
		out.Close()
		return fmt.Errorf("image changed while copying: wrote %d of %d bytes", n, imageSize)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close executable: %w", err)
	}
	return os.Chmod(outputPath, 0755)
}

var (
	nameLine   = regexp.MustCompile(`(?m)^RETROS_PACKAGE_NAME="([^"\n]*)"`)
	sizeLine   = regexp.MustCompile(`(?m)^RETROS_IMAGE_SIZE=([0-9]+)`)
	offsetRun  = regexp.MustCompile(`(^|[^0-9])([0-9]{20})([^0-9]|$)`)
	offsetLine = regexp.MustCompile(`(?m)^RETROS_IMAGE_OFFSET=\$\(\(10#([0-9]+)\)\)`)
)

// ReadHeader parses the layout recorded in the stub at the start of r.
// Stubs rendered from the embedded template yield name, size and offset;
// for custom templates the offset is located as the first 20-digit field
// that points inside the scanned region and the size is derived from the
// file size.
func ReadHeader(r io.ReaderAt, fileSize int64) (*Header, error) {
	scan := fileSize
	if scan > MaxStubSize {
		scan = MaxStubSize
	}
	buf := make([]byte, scan)
	if _, err := r.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read stub: %w", err)
	}

	h := &Header{FileSize: fileSize, Offset: -1, Size: -1}
	if m := nameLine.FindSubmatch(buf); m != nil {
		h.Name = string(m[1])
	}
	if m := sizeLine.FindSubmatch(buf); m != nil {
		h.Size, _ = strconv.ParseInt(string(m[1]), 10, 64)
	}
	if m := offsetLine.FindSubmatch(buf); m != nil {
		h.Offset, _ = strconv.ParseInt(string(m[1]), 10, 64)
	} else {
		for _, m := range offsetRun.FindAllSubmatchIndex(buf, -1) {
			v, err := strconv.ParseInt(string(buf[m[4]:m[5]]), 10, 64)
			if err == nil && v >= int64(m[5]) && v <= fileSize {
				h.Offset = v
				break
			}
		}
	}

	if h.Offset < 0 {
		if fileSize > MaxStubSize {
			return nil, fmt.Errorf("%w: no image offset in the first %d bytes, stubs are limited to %d bytes", ErrInvalidLayout, scan, MaxStubSize)
		}
		return nil, ErrInvalidLayout
	}
	if h.Size < 0 {
		h.Size = fileSize - h.Offset
	}
	if h.Offset+h.Size != fileSize {
		return nil, fmt.Errorf("%w: offset %d + size %d != file size %d", ErrInvalidLayout, h.Offset, h.Size, fileSize)
	}
	return h, nil
}

// Image is an open self-mounting executable with its embedded image exposed.
type Image struct {
	*io.SectionReader
	Header *Header
	file   *os.File
}

func (i *Image) Close() error {
	return i.file.Close()
}

// OpenImage opens the executable at path and returns a reader over the
// embedded image bytes.
func OpenImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, errkind.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	h, err := ReadHeader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Image{SectionReader: io.NewSectionReader(f, h.Offset, h.Size), Header: h, file: f}, nil
}

// ExtractImage writes the image embedded in the executable at path to dst.
func ExtractImage(path, dst string) (*Header, error) {
	img, err := OpenImage(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, img); err != nil {
		out.Close()
		os.Remove(dst)
		return nil, fmt.Errorf("failed to extract image: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return img.Header, nil
}
