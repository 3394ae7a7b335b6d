// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"fmt"
	"io"
	"sync"

	"github.com/pixelneko/nekofs/lib/bufferpool"
)

// File is the shared decoding state of one compressed entry. A Reader
// keeps one File per entry while any FileReader of it is open, so
// concurrent readers share decompressed blocks.
type File struct {
	reader  *Reader
	entry   *FileEntry
	offsets []int64
	cache   *blockCache

	// Guarded by reader.mu.
	refs int
}

func newFile(reader *Reader, entry *FileEntry) *File {
	offsets := make([]int64, len(entry.Blocks)+1)
	offsets[0] = entry.BeginPos
	for index, size := range entry.Blocks {
		offsets[index+1] = offsets[index] + int64(size)
	}
	file := &File{reader: reader, entry: entry, offsets: offsets}
	file.cache = newBlockCache(len(entry.Blocks), file.loadBlock)
	return file
}

// loadBlock reads and decompresses one block.
func (f *File) loadBlock(index int) (*cachedBlock, error) {
	size := int(f.entry.Blocks[index])
	compressed := f.reader.options.Pool.Acquire(bufferpool.Compressed)
	defer compressed.Release()
	if size > len(compressed.B) {
		return nil, corruptf("%s block %d is %d bytes, above bound %d", f.entry.Name, index, size, len(compressed.B))
	}
	if _, err := readFullAt(f.reader.set, compressed.B[:size], f.offsets[index]); err != nil {
		return nil, ioErrorf(err, "reading %s block %d", f.entry.Name, index)
	}
	data := make([]byte, blockLength(f.entry.OriginalSize, int64(index)))
	if err := decompressBlock(f.reader.options.Decompressor, compressed.B[:size], data); err != nil {
		return nil, fmt.Errorf("%s block %d: %w", f.entry.Name, index, err)
	}
	return &cachedBlock{data: data}, nil
}

// blockReader is the io.ReaderAt of one FileReader over a shared
// File. It keeps the block it read last reachable, so sequential reads
// do not depend on the cache surviving garbage collection.
type blockReader struct {
	file *File

	mu        sync.Mutex
	last      *cachedBlock
	lastIndex int
}

func (b *blockReader) block(index int) (*cachedBlock, error) {
	b.mu.Lock()
	if b.last != nil && b.lastIndex == index {
		block := b.last
		b.mu.Unlock()
		return block, nil
	}
	b.mu.Unlock()

	block, err := b.file.cache.get(index)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.last, b.lastIndex = block, index
	b.mu.Unlock()
	return block, nil
}

func (b *blockReader) ReadAt(p []byte, off int64) (int, error) {
	size := b.file.entry.OriginalSize
	read := 0
	for read < len(p) && off < size {
		index := int(off / BlockSize)
		block, err := b.block(index)
		if err != nil {
			return read, err
		}
		n := copy(p[read:], block.data[off-int64(index)*BlockSize:])
		read += n
		off += int64(n)
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}
