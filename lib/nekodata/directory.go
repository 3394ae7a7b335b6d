// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Central directory entry layout:
//
//	nameLength   varint32, > 0
//	name         nameLength bytes
//	originalSize varint64
//	if originalSize > 0:
//	  beginPos   varint64
//	  blockCount varint64 (0 only for opaque entries)
//	  blockSize  varint32 > 0, blockCount times
//	  digest     32 bytes
//
// The directory is followed by an 8-byte big-endian pointer to its
// first entry.

// emptyDigest is the digest of zero-size entries, which is not stored.
var emptyDigest Digest = sha256.Sum256(nil)

// appendEntry appends the directory encoding of entry to dst.
func appendEntry(dst []byte, entry *FileEntry) ([]byte, error) {
	if entry.Name == "" {
		return nil, fmt.Errorf("%w: entry with empty name", ErrInvalidConfiguration)
	}
	if len(entry.Name) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: entry name of %d bytes", ErrInvalidConfiguration, len(entry.Name))
	}
	dst = AppendUvarint32(dst, uint32(len(entry.Name)))
	dst = append(dst, entry.Name...)
	dst = AppendUvarint64(dst, uint64(entry.OriginalSize))
	if entry.OriginalSize == 0 {
		return dst, nil
	}
	dst = AppendUvarint64(dst, uint64(entry.BeginPos))
	dst = AppendUvarint64(dst, uint64(len(entry.Blocks)))
	for index, size := range entry.Blocks {
		if size <= 0 {
			return nil, fmt.Errorf("%w: %s block %d has size %d",
				ErrInvalidConfiguration, entry.Name, index, size)
		}
		dst = AppendUvarint32(dst, uint32(size))
	}
	return append(dst, entry.Digest[:]...), nil
}

// readEntry decodes one directory entry from r, which holds at most
// limit more bytes.
func readEntry(r *bufio.Reader, limit int64) (FileEntry, error) {
	var entry FileEntry

	nameLength, err := readPositiveUvarint32(r, "name length")
	if err != nil {
		return entry, err
	}
	if int64(nameLength) > limit {
		return entry, corruptf("name length %d exceeds remaining directory bytes %d", nameLength, limit)
	}
	name := make([]byte, nameLength)
	if _, err := io.ReadFull(r, name); err != nil {
		return entry, fmt.Errorf("reading name: %w", truncated(err))
	}
	entry.Name = string(name)

	entry.OriginalSize, err = readSizeUvarint64(r, "original size of "+entry.Name)
	if err != nil {
		return entry, err
	}
	if entry.OriginalSize == 0 {
		entry.Digest = emptyDigest
		return entry, nil
	}

	entry.BeginPos, err = readSizeUvarint64(r, "begin position of "+entry.Name)
	if err != nil {
		return entry, err
	}
	blockCount, err := readSizeUvarint64(r, "block count of "+entry.Name)
	if err != nil {
		return entry, err
	}
	if blockCount > 0 {
		// Each block size takes at least one byte and the digest follows.
		if budget := limit - int64(nameLength) - DigestSize; blockCount > budget {
			return entry, corruptf("%s: %d blocks cannot fit in %d remaining directory bytes",
				entry.Name, blockCount, limit)
		}
		if blockCount != BlockCount(entry.OriginalSize) {
			return entry, corruptf("%s: %d blocks for %d bytes, want %d",
				entry.Name, blockCount, entry.OriginalSize, BlockCount(entry.OriginalSize))
		}
		entry.Blocks = make([]int32, blockCount)
		for index := range entry.Blocks {
			entry.Blocks[index], err = readPositiveUvarint32(r, fmt.Sprintf("size of %s block %d", entry.Name, index))
			if err != nil {
				return entry, err
			}
		}
	}

	if _, err := io.ReadFull(r, entry.Digest[:]); err != nil {
		return entry, fmt.Errorf("reading digest of %s: %w", entry.Name, truncated(err))
	}
	return entry, nil
}

// parseDirectory reads the central directory from the tail of a
// logical payload of the given length. Parsing must end exactly at
// the pointer; anything else is corruption.
func parseDirectory(payload io.ReaderAt, length int64) ([]FileEntry, error) {
	if length < pointerSize {
		return nil, corruptf("payload of %d bytes has no directory pointer", length)
	}
	var pointer [pointerSize]byte
	if _, err := payload.ReadAt(pointer[:], length-pointerSize); err != nil {
		return nil, ioErrorf(err, "reading directory pointer")
	}
	start := binary.BigEndian.Uint64(pointer[:])
	end := length - pointerSize
	if start > uint64(end) {
		return nil, corruptf("directory pointer %d beyond directory end %d", start, end)
	}

	section := io.NewSectionReader(payload, int64(start), end-int64(start))
	counter := &countingReader{r: section}
	reader := bufio.NewReader(counter)
	remaining := func() int64 {
		return section.Size() - counter.n + int64(reader.Buffered())
	}

	var entries []FileEntry
	seen := make(map[string]struct{})
	for remaining() > 0 {
		entry, err := readEntry(reader, remaining())
		if err != nil {
			return nil, fmt.Errorf("directory entry %d at offset %d: %w",
				len(entries), end-remaining(), err)
		}
		if _, duplicate := seen[entry.Name]; duplicate {
			return nil, corruptf("duplicate directory entry %q", entry.Name)
		}
		seen[entry.Name] = struct{}{}
		if entry.OriginalSize > 0 {
			stored := entry.StoredSize()
			if entry.BeginPos > int64(start) || stored > int64(start)-entry.BeginPos {
				return nil, corruptf("%s: stored range [%d, %d) overlaps directory at %d",
					entry.Name, entry.BeginPos, entry.BeginPos+stored, start)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// countingReader counts bytes read from r.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
