// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pixelneko/nekofs/lib/bufferpool"
	"github.com/pixelneko/nekofs/lib/vfs"
)

// ReaderOptions configures a Reader. Zero values select defaults.
type ReaderOptions struct {
	// Pool supplies compressed-block and copy buffers.
	// Default NewBufferPool().
	Pool *bufferpool.Pool

	// Logger receives volume discovery at debug level.
	Logger *slog.Logger

	// Decompressor decodes blocks. Default LZ4Decompressor.
	Decompressor Decompressor
}

func (o ReaderOptions) withDefaults() (ReaderOptions, error) {
	if o.Pool == nil {
		o.Pool = NewBufferPool()
	}
	if o.Pool.Size(bufferpool.Compressed) < CompressBound {
		return o, fmt.Errorf("%w: buffer pool compressed size %d, need at least %d",
			ErrInvalidConfiguration, o.Pool.Size(bufferpool.Compressed), CompressBound)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Decompressor == nil {
		o.Decompressor = LZ4Decompressor{}
	}
	return o, nil
}

// Reader is an open archive. The central directory is parsed once at
// open and never changes. Safe for concurrent use.
//
// Reader implements vfs.FileSystem, so an archive can be the source
// of another archive.
type Reader struct {
	options ReaderOptions
	logger  *slog.Logger
	set     *volumeSet
	entries []FileEntry
	index   map[string]int
	closed  atomic.Bool

	mu    sync.Mutex
	files map[string]*File
}

var _ vfs.FileSystem = (*Reader)(nil)

// Open opens the archive whose volume set contains path on the host
// file system. path is normally the first volume; the path of a later
// volume is mapped back to the first by its footer index.
func Open(path string, options ReaderOptions) (*Reader, error) {
	return OpenFS(vfs.NewOS(""), path, options)
}

// OpenFS opens the archive whose volume set contains path in
// fileSystem. The remaining volumes are found by naming convention
// and their count is read from the footer.
func OpenFS(fileSystem vfs.FileSystem, path string, options ReaderOptions) (*Reader, error) {
	options, err := options.withDefaults()
	if err != nil {
		return nil, err
	}
	if fileSystem.GetFileType(path) == vfs.None && !strings.HasSuffix(path, Extension) {
		path = ArchivePath(path)
	}

	first, err := openVolume(fileSystem, path)
	if err != nil {
		return nil, err
	}
	trailer, err := readFooter(first)
	if err != nil {
		first.Closer.Close()
		return nil, err
	}
	if trailer.Index == 0 || trailer.Index > trailer.Total {
		first.Closer.Close()
		return nil, inconsistentf("volume %s has index %d of %d", path, trailer.Index, trailer.Total)
	}
	if trailer.Index != 1 {
		first.Closer.Close()
		firstPath, ok := firstVolumePath(path, int(trailer.Index)-1)
		if !ok {
			return nil, inconsistentf("volume %s has index %d, which its name does not match", path, trailer.Index)
		}
		options.Logger.Debug("mapped volume to first volume", "path", path, "first", firstPath)
		path = firstPath
		if first, err = openVolume(fileSystem, path); err != nil {
			return nil, err
		}
		if trailer, err = readFooter(first); err != nil {
			first.Closer.Close()
			return nil, err
		}
	}

	volumes := []VolumeSource{first}
	closeAll := func() {
		for _, volume := range volumes {
			volume.Closer.Close()
		}
	}
	for index := 1; index < int(trailer.Total); index++ {
		volume, err := openVolume(fileSystem, VolumePath(path, index))
		if err != nil {
			closeAll()
			return nil, err
		}
		volumes = append(volumes, volume)
	}
	options.Logger.Debug("discovered volume set", "first", path, "volumes", len(volumes))

	reader, err := newReader(volumes, options)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return reader, nil
}

func openVolume(fileSystem vfs.FileSystem, path string) (VolumeSource, error) {
	stream, err := fileSystem.OpenReadStream(path)
	if err != nil {
		return VolumeSource{}, ioErrorf(err, "opening volume %s", path)
	}
	return VolumeSource{Name: path, Reader: stream, Size: stream.Size(), Closer: stream}, nil
}

// OpenVolumes opens an archive from an explicit, ordered list of
// volumes. Closing the Reader closes every volume's Closer.
func OpenVolumes(volumes []VolumeSource, options ReaderOptions) (*Reader, error) {
	options, err := options.withDefaults()
	if err != nil {
		return nil, err
	}
	return newReader(volumes, options)
}

func newReader(volumes []VolumeSource, options ReaderOptions) (*Reader, error) {
	set, err := newVolumeSet(volumes)
	if err != nil {
		return nil, err
	}
	entries, err := parseDirectory(set, set.length)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(entries))
	for position, entry := range entries {
		index[entry.Name] = position
	}
	options.Logger.Debug("opened archive",
		"volumes", len(volumes),
		"volume_size", set.volumeSize,
		"payload_bytes", set.length,
		"entries", len(entries),
	)
	return &Reader{
		options: options,
		logger:  options.Logger,
		set:     set,
		entries: entries,
		index:   index,
		files:   make(map[string]*File),
	}, nil
}

// OpenNested opens the nested archive stored as entry name. The
// returned Reader shares this Reader's volumes and must not be used
// after this Reader is closed.
func (r *Reader) OpenNested(name string) (*Reader, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if !entry.Opaque() {
		return nil, fmt.Errorf("%w: %s is not a nested archive", ErrCorruptArchive, name)
	}
	volumes, err := splitConcatenated(name, r.set.Section(entry.BeginPos, entry.OriginalSize), entry.OriginalSize)
	if err != nil {
		return nil, fmt.Errorf("opening nested %s: %w", name, err)
	}
	nested, err := newReader(volumes, r.options)
	if err != nil {
		return nil, fmt.Errorf("opening nested %s: %w", name, err)
	}
	return nested, nil
}

// splitConcatenated divides a byte range holding a whole volume set
// written back to back into its volumes. The last volume's footer
// gives the count and size.
func splitConcatenated(name string, r io.ReaderAt, size int64) ([]VolumeSource, error) {
	trailer, err := readFooter(VolumeSource{Name: name, Reader: r, Size: size})
	if err != nil {
		return nil, err
	}
	volumeSize := int64(trailer.VolumeSizeMB) * VolumeUnit
	total := int64(trailer.Total)
	if total == 0 || volumeSize <= headerSize+footerSize {
		return nil, corruptf("%s: footer declares %d volumes of %d bytes", name, total, volumeSize)
	}
	full := total - 1
	if full > size/volumeSize || size-full*volumeSize <= 0 || size-full*volumeSize > volumeSize {
		return nil, corruptf("%s: %d bytes cannot hold %d volumes of %d bytes", name, size, total, volumeSize)
	}
	volumes := make([]VolumeSource, total)
	for index := range volumes {
		begin := int64(index) * volumeSize
		length := min(volumeSize, size-begin)
		volumes[index] = VolumeSource{
			Name:   fmt.Sprintf("%s#%d", name, index+1),
			Reader: io.NewSectionReader(r, begin, length),
			Size:   length,
		}
	}
	return volumes, nil
}

// Close releases the volumes. Open FileReaders fail with ErrClosed
// afterwards.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.mu.Lock()
	clear(r.files)
	r.mu.Unlock()
	return r.set.Close()
}

func (r *Reader) lookup(name string) (*FileEntry, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	position, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &r.entries[position], nil
}

// VolumeCount returns the number of volumes.
func (r *Reader) VolumeCount() int { return len(r.set.volumes) }

// VolumeSize returns the size of every volume but the last.
func (r *Reader) VolumeSize() int64 { return r.set.volumeSize }

// PayloadSize returns the length of the logical payload stream.
func (r *Reader) PayloadSize() int64 { return r.set.length }

// ListFiles returns every entry name in directory order.
func (r *Reader) ListFiles() ([]string, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	names := make([]string, len(r.entries))
	for position, entry := range r.entries {
		names[position] = entry.Name
	}
	return names, nil
}

// Entries returns a copy of the central directory.
func (r *Reader) Entries() []FileEntry {
	entries := slices.Clone(r.entries)
	for position := range entries {
		entries[position].Blocks = slices.Clone(entries[position].Blocks)
	}
	return entries
}

// Entry returns the directory record of name.
func (r *Reader) Entry(name string) (FileEntry, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return FileEntry{}, err
	}
	copied := *entry
	copied.Blocks = slices.Clone(entry.Blocks)
	return copied, nil
}

// Exists reports whether name is an entry.
func (r *Reader) Exists(name string) bool {
	_, err := r.lookup(name)
	return err == nil
}

// GetSize returns the decoded size of name.
func (r *Reader) GetSize(name string) (int64, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return 0, err
	}
	return entry.OriginalSize, nil
}

// GetFileType reports Regular for entries and Directory for any
// slash-terminated prefix of an entry name.
func (r *Reader) GetFileType(name string) vfs.FileType {
	if r.closed.Load() {
		return vfs.None
	}
	if _, ok := r.index[name]; ok {
		return vfs.Regular
	}
	prefix := strings.TrimSuffix(name, "/") + "/"
	for _, entry := range r.entries {
		if prefix == "/" || strings.HasPrefix(entry.Name, prefix) {
			return vfs.Directory
		}
	}
	return vfs.None
}

// OpenRawStream returns the stored bytes of name: compressed blocks
// for regular entries, the verbatim bytes for opaque ones.
func (r *Reader) OpenRawStream(name string) (*io.SectionReader, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return r.set.Section(entry.BeginPos, entry.StoredSize()), nil
}

// OpenReadStream implements vfs.FileSystem with OpenDecodedStream.
func (r *Reader) OpenReadStream(name string) (vfs.ReadStream, error) {
	return r.OpenDecodedStream(name)
}

// OpenDecodedStream returns a reader of the decoded content of name.
// Opaque entries read as their stored bytes. The caller must Close the
// returned FileReader.
func (r *Reader) OpenDecodedStream(name string) (*FileReader, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if len(entry.Blocks) == 0 {
		return newFileReader(name, entry.OriginalSize, r.set.Section(entry.BeginPos, entry.OriginalSize), r, nil), nil
	}
	file, err := r.acquireFile(entry)
	if err != nil {
		return nil, err
	}
	return newFileReader(name, entry.OriginalSize, &blockReader{file: file}, r, func() {
		r.releaseFile(file)
	}), nil
}

// acquireFile returns the shared File of entry, creating it on first
// use, and takes a reference on it.
func (r *Reader) acquireFile(entry *FileEntry) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return nil, ErrClosed
	}
	file, ok := r.files[entry.Name]
	if !ok {
		file = newFile(r, entry)
		r.files[entry.Name] = file
	}
	file.refs++
	return file, nil
}

// releaseFile drops a reference; the last one discards the File and
// its block cache.
func (r *Reader) releaseFile(file *File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file.refs--
	if file.refs == 0 && r.files[file.entry.Name] == file {
		delete(r.files, file.entry.Name)
	}
}

// Verify recomputes the SHA-256 of the stored bytes of the named
// entries, or of every entry when no names are given. Every entry is
// checked; all mismatches are returned together as a *VerifyError.
// I/O failures stop verification immediately.
func (r *Reader) Verify(names ...string) error {
	entries := make([]*FileEntry, 0, max(len(names), len(r.entries)))
	if len(names) == 0 {
		for position := range r.entries {
			entries = append(entries, &r.entries[position])
		}
	} else {
		for _, name := range names {
			entry, err := r.lookup(name)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
	}
	if r.closed.Load() {
		return ErrClosed
	}

	buffer := r.options.Pool.Acquire(bufferpool.Copy)
	defer buffer.Release()

	var mismatches []DigestMismatch
	for _, entry := range entries {
		if entry.OriginalSize == 0 {
			continue
		}
		hasher := sha256.New()
		if _, err := io.CopyBuffer(hasher, r.set.Section(entry.BeginPos, entry.StoredSize()), buffer.B); err != nil {
			return fmt.Errorf("verifying %s: %w", entry.Name, err)
		}
		var actual Digest
		hasher.Sum(actual[:0])
		if actual != entry.Digest {
			r.logger.Warn("digest mismatch", "name", entry.Name, "expected", entry.Digest, "actual", actual)
			mismatches = append(mismatches, DigestMismatch{Name: entry.Name, Expected: entry.Digest, Actual: actual})
		}
	}
	if len(mismatches) > 0 {
		return &VerifyError{Mismatches: mismatches}
	}
	return nil
}

// FileReader reads the decoded content of one entry. ReadAt is safe
// for concurrent use; Read and Seek share a cursor and are not.
type FileReader struct {
	name     string
	size     int64
	source   io.ReaderAt
	reader   *Reader
	position int64
	closed   atomic.Bool
	release  func()
}

var _ vfs.ReadStream = (*FileReader)(nil)

func newFileReader(name string, size int64, source io.ReaderAt, reader *Reader, release func()) *FileReader {
	return &FileReader{name: name, size: size, source: source, reader: reader, release: release}
}

// Name returns the entry name.
func (f *FileReader) Name() string { return f.name }

// Size returns the decoded size.
func (f *FileReader) Size() int64 { return f.size }

// ReadAt reads decoded bytes at off.
func (f *FileReader) ReadAt(p []byte, off int64) (int, error) {
	if f.closed.Load() || f.reader.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%s: read at negative offset %d", f.name, off)
	}
	if off >= f.size {
		return 0, io.EOF
	}
	want := p
	if remaining := f.size - off; int64(len(want)) > remaining {
		want = want[:remaining]
	}
	n, err := f.source.ReadAt(want, off)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(want)) {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read reads decoded bytes at the cursor.
func (f *FileReader) Read(p []byte) (int, error) {
	if f.position >= f.size {
		if f.closed.Load() {
			return 0, ErrClosed
		}
		return 0, io.EOF
	}
	n, err := f.ReadAt(p, f.position)
	f.position += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

// Seek moves the cursor.
func (f *FileReader) Seek(offset int64, whence int) (int64, error) {
	if f.closed.Load() {
		return 0, ErrClosed
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.position
	case io.SeekEnd:
		offset += f.size
	default:
		return 0, fmt.Errorf("%s: invalid whence %d", f.name, whence)
	}
	if offset < 0 {
		return 0, fmt.Errorf("%s: seek to negative position %d", f.name, offset)
	}
	f.position = offset
	return offset, nil
}

// Close releases the reader's hold on the entry's block cache.
func (f *FileReader) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	if f.release != nil {
		f.release()
	}
	return nil
}
