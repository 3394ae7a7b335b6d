// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package export copies the decoded contents of a nekodata archive out
// of the container format: as a tar stream (optionally zstd or LZ4
// frame compressed) or as plain files in a writable file system.
//
// Tar output is reproducible. Entries appear in directory order with a
// fixed mode and modification time, so exporting the same archive twice
// produces identical bytes.
package export

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/pixelneko/nekofs/lib/bufferpool"
	"github.com/pixelneko/nekofs/lib/nekodata"
	"github.com/pixelneko/nekofs/lib/vfs"
)

// Compression selects the outer compression of a tar export.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

// String returns the human-readable name of a compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Extension returns the file extension conventionally used for a tar
// export with this compression.
func (c Compression) Extension() string {
	switch c {
	case CompressionZstd:
		return ".tar.zst"
	case CompressionLZ4:
		return ".tar.lz4"
	default:
		return ".tar"
	}
}

// ParseCompression parses a compression from its string representation.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// epoch is the modification time of every exported file.
var epoch = time.Unix(0, 0).UTC()

// Options controls [WriteTar] and [Extract].
type Options struct {
	// Compression wraps the tar stream. Ignored by Extract.
	Compression Compression

	// Names limits the export to these entries, in this order. Empty
	// means every entry in directory order.
	Names []string

	// Pool supplies copy buffers. Default nekodata.NewBufferPool().
	Pool *bufferpool.Pool

	// Logger receives one record per exported entry. Default discards.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Pool == nil {
		o.Pool = nekodata.NewBufferPool()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

func (o Options) names(reader *nekodata.Reader) ([]string, error) {
	if len(o.Names) > 0 {
		return o.Names, nil
	}
	return reader.ListFiles()
}

// WriteTar writes the decoded entries of reader to w as a tar stream.
func WriteTar(w io.Writer, reader *nekodata.Reader, options Options) (err error) {
	options = options.withDefaults()
	names, err := options.names(reader)
	if err != nil {
		return err
	}

	output, finish, err := compressor(w, options.Compression)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, finish())
	}()

	tarWriter := tar.NewWriter(output)
	buffer := options.Pool.Acquire(bufferpool.Copy)
	defer buffer.Release()

	for _, name := range names {
		if err := writeTarEntry(tarWriter, reader, name, buffer.B); err != nil {
			return err
		}
		options.Logger.Debug("exported entry", "name", name)
	}
	return tarWriter.Close()
}

func writeTarEntry(tarWriter *tar.Writer, reader *nekodata.Reader, name string, buffer []byte) error {
	stream, err := reader.OpenDecodedStream(name)
	if err != nil {
		return err
	}
	defer stream.Close()

	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     stream.Size(),
		Mode:     0o644,
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}
	if _, err := io.CopyBuffer(tarWriter, stream, buffer); err != nil {
		return fmt.Errorf("exporting %s: %w", name, err)
	}
	return nil
}

// compressor wraps w according to compression. finish flushes and
// closes the wrapper without closing w.
func compressor(w io.Writer, compression Compression) (io.Writer, func() error, error) {
	switch compression {
	case CompressionNone:
		return w, func() error { return nil }, nil

	case CompressionZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, nil, fmt.Errorf("zstd writer: %w", err)
		}
		return encoder, encoder.Close, nil

	case CompressionLZ4:
		writer := lz4.NewWriter(w)
		if err := writer.Apply(lz4.ChecksumOption(true)); err != nil {
			return nil, nil, fmt.Errorf("lz4 writer: %w", err)
		}
		return writer, writer.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported compression: %s", compression)
	}
}

// Extract writes each selected entry as a file of the same name into
// target. Existing files are overwritten. Entry names that would
// resolve outside target are refused.
func Extract(target vfs.WritableFileSystem, reader *nekodata.Reader, options Options) error {
	options = options.withDefaults()
	names, err := options.names(reader)
	if err != nil {
		return err
	}
	buffer := options.Pool.Acquire(bufferpool.Copy)
	defer buffer.Release()

	for _, name := range names {
		if err := extractEntry(target, reader, name, buffer.B); err != nil {
			return err
		}
		options.Logger.Debug("extracted entry", "name", name)
	}
	return nil
}

func extractEntry(target vfs.WritableFileSystem, reader *nekodata.Reader, name string, buffer []byte) (err error) {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("refusing to extract %q: not a local path", name)
	}
	stream, err := reader.OpenDecodedStream(name)
	if err != nil {
		return err
	}
	defer stream.Close()

	output, err := target.OpenWriteStream(name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	defer func() {
		if closeErr := output.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", name, closeErr)
		}
	}()
	if _, err := io.CopyBuffer(output, stream, buffer); err != nil {
		return fmt.Errorf("extracting %s: %w", name, err)
	}
	return nil
}
