// Package imageinspect reads retros artifacts back without mounting them:
// the squashfs superblock, the self-mounting layout and the embedded
// package descriptor.
package imageinspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"

	"github.com/open-edge-platform/retros/internal/image/imagecompress"
	"github.com/open-edge-platform/retros/internal/image/selfmount"
	"github.com/open-edge-platform/retros/internal/pkgmeta"
	"github.com/open-edge-platform/retros/internal/utils/errkind"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

// Kind classifies an artifact by content.
type Kind string

const (
	KindImage      Kind = "squashfs"
	KindExecutable Kind = "self-mounting"
	KindCompressed Kind = "compressed"
)

// Summary describes one artifact.
type Summary struct {
	Path         string               `json:"path"`
	Kind         Kind                 `json:"kind"`
	Transport    imagecompress.Format `json:"transport,omitempty"`
	SizeBytes    int64                `json:"sizeBytes"`
	ImageOffset  int64                `json:"imageOffset"`
	ImageSize    int64                `json:"imageSize"`
	StubName     string               `json:"stubName,omitempty"`
	Superblock   *Superblock          `json:"superblock,omitempty"`
	Descriptor   *pkgmeta.Descriptor  `json:"descriptor,omitempty"`
	MetadataPath string               `json:"metadataPath,omitempty"`
	Notes        []string             `json:"notes,omitempty"`
}

// Inspector summarizes artifacts.
type Inspector interface {
	Inspect(path string) (*Summary, error)
}

// fileReader reads files out of an image filesystem.
type fileReader interface {
	ReadFile(name string) ([]byte, error)
	Close() error
}

// DiskfsInspector reads image contents with go-diskfs.
type DiskfsInspector struct {
	// TempDir hosts images extracted from executables or decompressed.
	TempDir string

	open func(imagePath string) (fileReader, error)
}

func NewDiskfsInspector(tempDir string) *DiskfsInspector {
	return &DiskfsInspector{TempDir: tempDir, open: openDiskfs}
}

// DetectKind classifies the artifact at p by its leading bytes.
func DetectKind(p string) (Kind, error) {
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", p, errkind.ErrNotFound)
		}
		return "", fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return detectKind(f, info.Size())
}

func detectKind(r io.ReaderAt, size int64) (Kind, error) {
	head := make([]byte, 8)
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read artifact header: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte(SquashfsMagic)):
		return KindImage, nil
	case imagecompress.DetectBytes(head) != imagecompress.FormatNone:
		return KindCompressed, nil
	case bytes.HasPrefix(head, []byte("#!")):
		if _, err := selfmount.ReadHeader(r, size); err != nil {
			return "", err
		}
		return KindExecutable, nil
	default:
		return "", fmt.Errorf("%w: unrecognized artifact", ErrNotSquashfs)
	}
}

// Inspect summarizes the artifact at p.
func (d *DiskfsInspector) Inspect(p string) (*Summary, error) {
	log := logger.Logger()

	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, errkind.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	kind, err := DetectKind(p)
	if err != nil {
		return nil, err
	}

	s := &Summary{Path: p, Kind: kind, SizeBytes: info.Size()}

	imagePath := p
	switch kind {
	case KindImage:
		s.ImageSize = info.Size()
	case KindExecutable, KindCompressed:
		workDir, err := os.MkdirTemp(d.TempDir, "retros-inspect-")
		if err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		defer os.RemoveAll(workDir)
		imagePath = filepath.Join(workDir, "image.squashfs")

		if kind == KindExecutable {
			h, err := selfmount.ExtractImage(p, imagePath)
			if err != nil {
				return nil, err
			}
			s.ImageOffset, s.ImageSize, s.StubName = h.Offset, h.Size, h.Name
		} else {
			format, err := imagecompress.Decompress(p, imagePath)
			if err != nil {
				return nil, err
			}
			s.Transport = format
			if st, err := os.Stat(imagePath); err == nil {
				s.ImageSize = st.Size()
			}
		}
	}
	log.Debugf("Inspecting %s (%s) via image %s", p, kind, imagePath)

	if err := d.inspectImage(s, imagePath); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *DiskfsInspector) inspectImage(s *Summary, imagePath string) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	sb, err := ReadSuperblock(f, 0)
	f.Close()
	if err != nil {
		return err
	}
	s.Superblock = sb

	open := d.open
	if open == nil {
		open = openDiskfs
	}
	fr, err := open(imagePath)
	if err != nil {
		s.Notes = append(s.Notes, err.Error())
		return nil
	}
	defer fr.Close()

	for _, rel := range []string{pkgmeta.MetadataPath, pkgmeta.LegacyMetadataPath} {
		data, err := fr.ReadFile(path.Join("/", rel))
		if err != nil {
			continue
		}
		desc, err := pkgmeta.Decode(data)
		if err != nil {
			return fmt.Errorf("%s in %s: %w", rel, s.Path, err)
		}
		s.Descriptor = desc
		s.MetadataPath = rel
		return nil
	}
	s.Notes = append(s.Notes, fmt.Sprintf("no %s in image", pkgmeta.MetadataPath))
	return nil
}

type diskfsReader struct {
	dsk *disk.Disk
	fs  filesystem.FileSystem
}

func openDiskfs(imagePath string) (fileReader, error) {
	dsk, err := diskfs.Open(imagePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("diskfs Open(%s): %w", imagePath, err)
	}
	fs, err := dsk.GetFilesystem(0)
	if err != nil {
		dsk.Close()
		return nil, fmt.Errorf("diskfs GetFilesystem(0): %w", err)
	}
	return &diskfsReader{dsk: dsk, fs: fs}, nil
}

func (r *diskfsReader) ReadFile(name string) ([]byte, error) {
	f, err := r.fs.OpenFile(name, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (r *diskfsReader) Close() error {
	return r.dsk.Close()
}
