package imageinspect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// SquashfsMagic is the little-endian signature at the start of every image.
const SquashfsMagic = "hsqs"

const superblockSize = 96

var ErrNotSquashfs = errors.New("not a squashfs image")

var compressionNames = map[uint16]string{
	1: "gzip",
	2: "lzma",
	3: "lzo",
	4: "xz",
	5: "lz4",
	6: "zstd",
}

// Superblock holds the fields of a squashfs superblock worth reporting.
type Superblock struct {
	Inodes      uint32    `json:"inodes"`
	ModTime     time.Time `json:"modTime"`
	BlockSize   uint32    `json:"blockSize"`
	Fragments   uint32    `json:"fragments"`
	Compression string    `json:"compression"`
	Flags       uint16    `json:"flags"`
	Major       uint16    `json:"major"`
	Minor       uint16    `json:"minor"`
	BytesUsed   int64     `json:"bytesUsed"`
}

// HasSquashfsMagic reports whether the four bytes at off in r are "hsqs".
// A reader shorter than off+4 is not an error.
func HasSquashfsMagic(r io.ReaderAt, off int64) (bool, error) {
	buf := make([]byte, len(SquashfsMagic))
	n, err := r.ReadAt(buf, off)
	if n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read signature: %w", err)
	}
	return string(buf) == SquashfsMagic, nil
}

// ReadSuperblock parses the superblock stored at off in r.
func ReadSuperblock(r io.ReaderAt, off int64) (*Superblock, error) {
	data := make([]byte, superblockSize)
	n, err := r.ReadAt(data, off)
	if n < superblockSize {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: superblock truncated", ErrNotSquashfs)
		}
		return nil, fmt.Errorf("failed to read superblock: %w", err)
	}
	return parseSuperblock(data)
}

func parseSuperblock(data []byte) (*Superblock, error) {
	if string(data[:4]) != SquashfsMagic {
		return nil, ErrNotSquashfs
	}

	le := binary.LittleEndian
	sb := &Superblock{
		Inodes:    le.Uint32(data[4:]),
		ModTime:   time.Unix(int64(le.Uint32(data[8:])), 0).UTC(),
		BlockSize: le.Uint32(data[12:]),
		Fragments: le.Uint32(data[16:]),
		Flags:     le.Uint16(data[24:]),
		Major:     le.Uint16(data[28:]),
		Minor:     le.Uint16(data[30:]),
		BytesUsed: int64(le.Uint64(data[40:])),
	}
	comp := le.Uint16(data[20:])
	if name, ok := compressionNames[comp]; ok {
		sb.Compression = name
	} else {
		sb.Compression = fmt.Sprintf("unknown(%d)", comp)
	}
	return sb, nil
}
