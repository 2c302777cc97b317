// Package imagecompress wraps bare images in a transport compression for
// distribution and unwraps them before install.
package imagecompress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

type Format string

const (
	FormatNone Format = ""
	FormatXZ   Format = "xz"
	FormatZstd Format = "zstd"
)

var ErrUnsupportedFormat = errors.New("unsupported transport compression")

var (
	xzMagic   = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// ParseFormat accepts "xz", "zstd" and "zst".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xz":
		return FormatXZ, nil
	case "zstd", "zst":
		return FormatZstd, nil
	default:
		return FormatNone, fmt.Errorf("%w: %q (expected xz or zstd)", ErrUnsupportedFormat, s)
	}
}

// Suffix is the file extension appended for f.
func (f Format) Suffix() string {
	switch f {
	case FormatXZ:
		return ".xz"
	case FormatZstd:
		return ".zst"
	default:
		return ""
	}
}

// FromSuffix returns the format implied by the extension of path.
func FromSuffix(path string) Format {
	switch {
	case strings.HasSuffix(path, ".xz"):
		return FormatXZ
	case strings.HasSuffix(path, ".zst"):
		return FormatZstd
	default:
		return FormatNone
	}
}

// DetectBytes identifies the format from the leading bytes of a stream.
func DetectBytes(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, xzMagic):
		return FormatXZ
	case bytes.HasPrefix(head, zstdMagic):
		return FormatZstd
	default:
		return FormatNone
	}
}

// Detect identifies the format of the file at path by content.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FormatNone, fmt.Errorf("%s: %w", path, errkind.ErrNotFound)
		}
		return FormatNone, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, len(xzMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatNone, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return DetectBytes(head[:n]), nil
}

// NewWriter returns a writer compressing into w. Close flushes the stream
// but does not close w.
func NewWriter(w io.Writer, f Format) (io.WriteCloser, error) {
	switch f {
	case FormatXZ:
		return xz.NewWriter(w)
	case FormatZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// NewReader returns a reader decompressing r.
func NewReader(r io.Reader, f Format) (io.ReadCloser, error) {
	switch f {
	case FormatXZ:
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(zr), nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// Compress writes src compressed with f to dst.
func Compress(src, dst string, f Format) error {
	log := logger.Logger()

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", src, errkind.ErrNotFound)
		}
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	err = func() error {
		zw, err := NewWriter(out, f)
		if err != nil {
			return err
		}
		if _, err := io.Copy(zw, in); err != nil {
			zw.Close()
			return fmt.Errorf("failed to compress %s: %w", src, err)
		}
		return zw.Close()
	}()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return err
	}

	log.Debugf("Compressed %s to %s (%s)", src, dst, f)
	return nil
}

// Decompress detects the format of src and writes the decompressed stream
// to dst. It returns the detected format.
func Decompress(src, dst string) (Format, error) {
	format, err := Detect(src)
	if err != nil {
		return FormatNone, err
	}
	if format == FormatNone {
		return FormatNone, fmt.Errorf("%w: %s is not xz or zstd compressed", ErrUnsupportedFormat, src)
	}

	in, err := os.Open(src)
	if err != nil {
		return format, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	zr, err := NewReader(in, format)
	if err != nil {
		return format, fmt.Errorf("failed to read %s: %w", src, err)
	}
	defer zr.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return format, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		os.Remove(dst)
		return format, fmt.Errorf("failed to decompress %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return format, fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return format, nil
}
