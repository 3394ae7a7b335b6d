// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// CompressBound is the worst-case compressed size of one block.
var CompressBound = lz4.CompressBlockBound(BlockSize)

// DefaultCompressionLevel is the LZ4-HC level used when
// EncoderOptions.CompressionLevel is zero.
const DefaultCompressionLevel = 9

// compressionLevels maps levels 1..9 to LZ4-HC search depths.
var compressionLevels = [...]lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

func hcLevel(level int) (lz4.CompressionLevel, error) {
	if level < 1 || level > len(compressionLevels) {
		return 0, fmt.Errorf("%w: compression level %d outside 1..%d",
			ErrInvalidConfiguration, level, len(compressionLevels))
	}
	return compressionLevels[level-1], nil
}

// blockCompressor holds one LZ4-HC context. The context's hash tables
// are reused across calls but every block is compressed on its own,
// so blocks never reference each other and decompress independently.
// Not safe for concurrent use.
type blockCompressor struct {
	hc lz4.CompressorHC
}

func newBlockCompressor(level lz4.CompressionLevel) *blockCompressor {
	return &blockCompressor{hc: lz4.CompressorHC{Level: level}}
}

// compress compresses src into dst, which must hold at least
// CompressBound bytes, and returns the compressed length.
func (c *blockCompressor) compress(src, dst []byte) (int, error) {
	written, err := c.hc.CompressBlock(src, dst)
	if err != nil {
		return 0, fmt.Errorf("%w: lz4 compress %d bytes: %w", ErrCompressionFailed, len(src), err)
	}
	if written <= 0 {
		return 0, fmt.Errorf("%w: lz4 produced no output for %d bytes", ErrCompressionFailed, len(src))
	}
	return written, nil
}

// Decompressor decodes one compressed block into dst and returns the
// number of bytes produced. ReaderOptions.Decompressor replaces the
// LZ4 default; it must be safe for concurrent use.
type Decompressor interface {
	DecompressBlock(src, dst []byte) (int, error)
}

// LZ4Decompressor is the default Decompressor.
type LZ4Decompressor struct{}

// DecompressBlock implements Decompressor with lz4.UncompressBlock.
func (LZ4Decompressor) DecompressBlock(src, dst []byte) (int, error) {
	return lz4.UncompressBlock(src, dst)
}

// decompressBlock decodes src into dst and checks that exactly
// len(dst) bytes were produced.
func decompressBlock(decompressor Decompressor, src, dst []byte) error {
	read, err := decompressor.DecompressBlock(src, dst)
	if err != nil {
		return fmt.Errorf("%w: lz4 decompress: %w", ErrDecompressionFailed, err)
	}
	if read != len(dst) {
		return fmt.Errorf("%w: lz4 decompress: got %d bytes, expected %d", ErrDecompressionFailed, read, len(dst))
	}
	return nil
}
