// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package nekodata reads and writes nekodata archives: multi-volume
// containers of LZ4-compressed files with a trailing central directory
// and SHA-256 digests.
//
// A volume set is one or more fixed-size volumes named base.nekodata,
// base.1.nekodata, base.2.nekodata, and so on. Each volume is an
// 8-byte magic header, a payload region, and a 12-byte footer. The
// payload regions concatenate into one logical stream; every position
// stored in the archive is an offset into that logical stream.
//
// Within the logical stream, each file is stored as a run of
// independently compressed LZ4 blocks of at most BlockSize decoded
// bytes. After the last file comes the central directory, a sequence
// of entries in registration order, and finally an 8-byte big-endian
// pointer to the first entry.
//
// Entries with a positive size and no blocks are opaque: their stored
// bytes are not compressed by this package. Nested archives and raw
// pass-through blobs are stored this way.
package nekodata

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// BlockSize is the decoded size of every block except a file's
	// last one.
	BlockSize = 32 << 10

	// VolumeUnit is the granularity of volume sizes. Footers record
	// the volume size in units of VolumeUnit.
	VolumeUnit = 1 << 20

	// DefaultVolumeSize is used when EncoderOptions.VolumeSize is zero.
	DefaultVolumeSize = 2 << 30

	// MaxVolumeSize is the largest volume size a footer can express.
	MaxVolumeSize = int64(math.MaxUint32) * VolumeUnit

	// Extension is the file extension of every volume.
	Extension = ".nekodata"

	// DigestSize is the length of an entry digest (SHA-256).
	DigestSize = 32

	headerSize  = 8
	footerSize  = 12
	pointerSize = 8
)

var volumeMagic = [headerSize]byte{'n', 'e', 'k', 'o', 'd', 'a', 't', 'a'}

// Digest is the SHA-256 of an entry's stored bytes. For compressed
// entries those are the concatenated compressed blocks, not the
// decoded content: two archives of identical content built with
// different compression settings carry different digests. Use
// Reader.ContentFingerprint to compare decoded content.
type Digest [DigestSize]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether d is all zero bytes.
func (d Digest) IsZero() bool { return d == Digest{} }

// MarshalText encodes d as lowercase hex.
func (d Digest) MarshalText() ([]byte, error) {
	return hex.AppendEncode(nil, d[:]), nil
}

// UnmarshalText decodes a 64-character hex string.
func (d *Digest) UnmarshalText(text []byte) error {
	return decodeHex32(d[:], text)
}

func decodeHex32(dst, text []byte) error {
	if len(text) != 2*len(dst) {
		return fmt.Errorf("digest must be %d hex characters, got %d", 2*len(dst), len(text))
	}
	_, err := hex.Decode(dst, text)
	return err
}

// FileEntry is one central directory record.
type FileEntry struct {
	// Name is the entry's path inside the archive. Never empty.
	Name string

	// OriginalSize is the decoded size in bytes. For opaque entries
	// it is the stored size.
	OriginalSize int64

	// BeginPos is the logical offset of the entry's first stored
	// byte. Meaningless when OriginalSize is zero.
	BeginPos int64

	// Blocks holds the compressed size of each block in order.
	// Empty for zero-size and opaque entries.
	Blocks []int32

	// Digest is the SHA-256 of the stored bytes.
	Digest Digest
}

// Opaque reports whether the entry's stored bytes are not block
// compressed (a nested archive or a raw blob).
func (e *FileEntry) Opaque() bool {
	return e.OriginalSize > 0 && len(e.Blocks) == 0
}

// CompressedSize returns the sum of the block sizes.
func (e *FileEntry) CompressedSize() int64 {
	var total int64
	for _, size := range e.Blocks {
		total += int64(size)
	}
	return total
}

// StoredSize returns the number of payload bytes the entry occupies.
func (e *FileEntry) StoredSize() int64 {
	if len(e.Blocks) == 0 {
		return e.OriginalSize
	}
	return e.CompressedSize()
}

// BlockCount returns the number of blocks a compressed entry of the
// given decoded size must have.
func BlockCount(originalSize int64) int64 {
	if originalSize <= 0 {
		return 0
	}
	return (originalSize + BlockSize - 1) / BlockSize
}

// blockLength returns the decoded length of block index of a file
// with the given decoded size.
func blockLength(originalSize, index int64) int {
	remaining := originalSize - index*BlockSize
	if remaining > BlockSize {
		return BlockSize
	}
	return int(remaining)
}

// payloadCapacity returns the number of payload bytes one volume of
// the given size carries.
func payloadCapacity(volumeSize int64) int64 {
	return volumeSize - headerSize - footerSize
}

// validateVolumeSize checks that size is a positive multiple of
// VolumeUnit that a footer can express.
func validateVolumeSize(size int64) error {
	if size <= 0 || size%VolumeUnit != 0 {
		return fmt.Errorf("%w: volume size %d is not a positive multiple of %d",
			ErrInvalidConfiguration, size, VolumeUnit)
	}
	if size > MaxVolumeSize {
		return fmt.Errorf("%w: volume size %d exceeds maximum %d",
			ErrInvalidConfiguration, size, MaxVolumeSize)
	}
	return nil
}

// ArchivePath returns path with the volume extension appended when it
// does not already end with it.
func ArchivePath(path string) string {
	if strings.HasSuffix(path, Extension) {
		return path
	}
	return path + Extension
}

// VolumePath returns the path of the volume with the given zero-based
// index in the set whose first volume is first. Index 0 is first
// itself; index i > 0 is base.i.nekodata.
func VolumePath(first string, index int) string {
	first = ArchivePath(first)
	if index == 0 {
		return first
	}
	base := strings.TrimSuffix(first, Extension)
	return base + "." + strconv.Itoa(index) + Extension
}

// firstVolumePath maps the path of the volume with the given
// zero-based index back to the path of the first volume. It returns
// false when path does not follow the naming convention for index.
func firstVolumePath(path string, index int) (string, bool) {
	if index == 0 {
		return path, true
	}
	suffix := "." + strconv.Itoa(index) + Extension
	if !strings.HasSuffix(path, suffix) {
		return "", false
	}
	base := strings.TrimSuffix(path, suffix)
	if base == "" {
		return "", false
	}
	return base + Extension, true
}
