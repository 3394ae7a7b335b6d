// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// VolumeFile is one physical volume being written. Volumes are
// written with WriteAt so that footers can be patched after the
// payload, and read back with ReadAt to digest nested archives.
type VolumeFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// VolumeSink creates the physical volumes of an archive. CreateVolume
// is called with index 0, 1, 2, ... in order, only when the encoder
// has bytes to place in that volume.
type VolumeSink interface {
	CreateVolume(index int) (VolumeFile, error)
}

// footer is the 12-byte trailer of every volume.
type footer struct {
	Index        uint32 // 1-based
	Total        uint32
	VolumeSizeMB uint32
}

func (f footer) encode() [footerSize]byte {
	var buffer [footerSize]byte
	binary.BigEndian.PutUint32(buffer[0:4], f.Index)
	binary.BigEndian.PutUint32(buffer[4:8], f.Total)
	binary.BigEndian.PutUint32(buffer[8:12], f.VolumeSizeMB)
	return buffer
}

func decodeFooter(buffer []byte) footer {
	return footer{
		Index:        binary.BigEndian.Uint32(buffer[0:4]),
		Total:        binary.BigEndian.Uint32(buffer[4:8]),
		VolumeSizeMB: binary.BigEndian.Uint32(buffer[8:12]),
	}
}

// writerVolume tracks one physical volume and how many bytes of it
// have been written, header included.
type writerVolume struct {
	file   VolumeFile
	length int64
}

// volumeWriter presents the payload regions of a growing volume set
// as one logical stream. Writes must not leave holes: every write
// starts at or before the current logical length.
type volumeWriter struct {
	sink       VolumeSink
	volumeSize int64
	capacity   int64
	volumes    []*writerVolume
	position   int64
	length     int64
}

func newVolumeWriter(sink VolumeSink, volumeSize int64) *volumeWriter {
	return &volumeWriter{
		sink:       sink,
		volumeSize: volumeSize,
		capacity:   payloadCapacity(volumeSize),
	}
}

// Position returns the logical offset of the next Write.
func (w *volumeWriter) Position() int64 { return w.position }

// Length returns the number of logical payload bytes written.
func (w *volumeWriter) Length() int64 { return w.length }

// Seek sets the logical position of the next Write. The position may
// not exceed the current length.
func (w *volumeWriter) Seek(position int64) error {
	if position < 0 || position > w.length {
		return fmt.Errorf("seek to %d outside written range [0, %d]", position, w.length)
	}
	w.position = position
	return nil
}

// Write writes p at the current position and advances it.
func (w *volumeWriter) Write(p []byte) (int, error) {
	n, err := w.WriteAt(p, w.position)
	w.position += int64(n)
	return n, err
}

// WriteAt writes p at logical offset off, creating volumes as the
// write crosses payload boundaries.
func (w *volumeWriter) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > w.length {
		return 0, fmt.Errorf("write at %d leaves a hole after logical length %d", off, w.length)
	}
	written := 0
	for written < len(p) {
		index := int(off / w.capacity)
		within := off % w.capacity
		volume, err := w.volume(index)
		if err != nil {
			return written, err
		}
		chunk := p[written:]
		if room := w.capacity - within; int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		physical := headerSize + within
		n, err := volume.file.WriteAt(chunk, physical)
		if end := physical + int64(n); end > volume.length {
			volume.length = end
		}
		written += n
		off += int64(n)
		if off > w.length {
			w.length = off
		}
		if err != nil {
			return written, ioErrorf(err, "writing volume %d at %d", index, physical)
		}
	}
	return written, nil
}

// ReadAt reads back already written logical bytes.
func (w *volumeWriter) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at negative offset %d", off)
	}
	read := 0
	for read < len(p) {
		if off >= w.length {
			return read, io.EOF
		}
		index := int(off / w.capacity)
		within := off % w.capacity
		chunk := p[read:]
		if room := min(w.capacity-within, w.length-off); int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		n, err := readFullAt(w.volumes[index].file, chunk, headerSize+within)
		read += n
		off += int64(n)
		if err != nil {
			return read, ioErrorf(err, "reading back volume %d", index)
		}
	}
	return read, nil
}

// volume returns volume index, creating it and every volume before it
// as needed. Creating volume i pads volume i-1 to exactly volumeSize.
func (w *volumeWriter) volume(index int) (*writerVolume, error) {
	for len(w.volumes) <= index {
		next := len(w.volumes)
		if next > 0 {
			if err := w.pad(w.volumes[next-1], next-1); err != nil {
				return nil, err
			}
		}
		file, err := w.sink.CreateVolume(next)
		if err != nil {
			return nil, ioErrorf(err, "creating volume %d", next)
		}
		volume := &writerVolume{file: file}
		w.volumes = append(w.volumes, volume)
		if _, err := file.WriteAt(volumeMagic[:], 0); err != nil {
			return nil, ioErrorf(err, "writing header of volume %d", next)
		}
		volume.length = headerSize
	}
	return w.volumes[index], nil
}

// pad zero-fills a volume whose payload is full up to volumeSize,
// leaving room for the footer at the end.
func (w *volumeWriter) pad(volume *writerVolume, index int) error {
	var zeros [footerSize]byte
	for volume.length < w.volumeSize {
		n := min(int64(len(zeros)), w.volumeSize-volume.length)
		if _, err := volume.file.WriteAt(zeros[:n], volume.length); err != nil {
			return ioErrorf(err, "padding volume %d", index)
		}
		volume.length += n
	}
	return nil
}

// finish writes the footer of every volume. A volume that is exactly
// volumeSize long gets its footer in the last 12 bytes; a shorter
// (last) volume gets it appended.
func (w *volumeWriter) finish() error {
	if len(w.volumes) == 0 {
		// An archive always has at least a directory pointer.
		return errors.New("no payload written")
	}
	total := uint32(len(w.volumes))
	for index, volume := range w.volumes {
		if index < len(w.volumes)-1 {
			if err := w.pad(volume, index); err != nil {
				return err
			}
		}
		at := volume.length
		if volume.length >= w.volumeSize {
			at = w.volumeSize - footerSize
		}
		trailer := footer{
			Index:        uint32(index + 1),
			Total:        total,
			VolumeSizeMB: uint32(w.volumeSize / VolumeUnit),
		}.encode()
		if _, err := volume.file.WriteAt(trailer[:], at); err != nil {
			return ioErrorf(err, "writing footer of volume %d", index)
		}
		if end := at + footerSize; end > volume.length {
			volume.length = end
		}
	}
	return nil
}

// Close closes every volume, returning the first error.
func (w *volumeWriter) Close() error {
	var first error
	for index, volume := range w.volumes {
		if err := volume.file.Close(); err != nil && first == nil {
			first = ioErrorf(err, "closing volume %d", index)
		}
	}
	return first
}

// VolumeSource is one physical volume opened for reading.
type VolumeSource struct {
	// Name identifies the volume in error messages.
	Name string
	// Reader reads the volume's bytes.
	Reader io.ReaderAt
	// Size is the physical size of the volume in bytes.
	Size int64
	// Closer, if set, is closed when the Reader is closed.
	Closer io.Closer
}

// volumeSet is the decoder's view of a validated volume set.
type volumeSet struct {
	volumes    []VolumeSource
	volumeSize int64
	capacity   int64
	length     int64
}

// readFooter reads the footer at the end of a volume.
func readFooter(source VolumeSource) (footer, error) {
	if source.Size < headerSize+footerSize {
		return footer{}, corruptf("volume %s is %d bytes, smaller than header and footer", source.Name, source.Size)
	}
	var buffer [footerSize]byte
	if _, err := readFullAt(source.Reader, buffer[:], source.Size-footerSize); err != nil {
		return footer{}, ioErrorf(err, "reading footer of %s", source.Name)
	}
	return decodeFooter(buffer[:]), nil
}

// newVolumeSet validates a complete, ordered list of volumes and
// computes the logical payload length.
func newVolumeSet(volumes []VolumeSource) (*volumeSet, error) {
	if len(volumes) == 0 {
		return nil, corruptf("empty volume set")
	}
	first, err := readFooter(volumes[0])
	if err != nil {
		return nil, err
	}
	if first.Index != 1 {
		return nil, inconsistentf("first volume %s has index %d", volumes[0].Name, first.Index)
	}
	if first.Total != uint32(len(volumes)) {
		return nil, inconsistentf("footer of %s declares %d volumes, have %d",
			volumes[0].Name, first.Total, len(volumes))
	}
	volumeSize := int64(first.VolumeSizeMB) * VolumeUnit
	if volumeSize <= headerSize+footerSize {
		return nil, corruptf("volume size %d MiB in %s", first.VolumeSizeMB, volumes[0].Name)
	}

	for index, source := range volumes {
		trailer, err := readFooter(source)
		if err != nil {
			return nil, err
		}
		if trailer.Index != uint32(index+1) || trailer.Total != first.Total || trailer.VolumeSizeMB != first.VolumeSizeMB {
			return nil, inconsistentf("volume %s footer (%d/%d, %d MiB), want (%d/%d, %d MiB)",
				source.Name, trailer.Index, trailer.Total, trailer.VolumeSizeMB,
				index+1, first.Total, first.VolumeSizeMB)
		}
		last := index == len(volumes)-1
		if !last && source.Size != volumeSize {
			return nil, corruptf("volume %s is %d bytes, want exactly %d", source.Name, source.Size, volumeSize)
		}
		if last && source.Size > volumeSize {
			return nil, corruptf("last volume %s is %d bytes, larger than volume size %d",
				source.Name, source.Size, volumeSize)
		}
		var magic [headerSize]byte
		if _, err := readFullAt(source.Reader, magic[:], 0); err != nil {
			return nil, ioErrorf(err, "reading header of %s", source.Name)
		}
		if magic != volumeMagic {
			return nil, corruptf("volume %s has magic %q, want %q", source.Name, magic[:], volumeMagic[:])
		}
	}

	capacity := payloadCapacity(volumeSize)
	last := volumes[len(volumes)-1]
	length := int64(len(volumes)-1)*capacity + last.Size - headerSize - footerSize
	return &volumeSet{
		volumes:    volumes,
		volumeSize: volumeSize,
		capacity:   capacity,
		length:     length,
	}, nil
}

// ReadAt reads logical payload bytes, crossing volume boundaries as
// needed.
func (s *volumeSet) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, corruptf("read at negative logical offset %d", off)
	}
	read := 0
	for read < len(p) {
		if off >= s.length {
			return read, io.EOF
		}
		index := int(off / s.capacity)
		within := off % s.capacity
		chunk := p[read:]
		if room := min(s.capacity-within, s.length-off); int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		source := s.volumes[index]
		n, err := readFullAt(source.Reader, chunk, headerSize+within)
		read += n
		off += int64(n)
		if err != nil {
			return read, ioErrorf(err, "reading %s at %d", source.Name, headerSize+within)
		}
	}
	return read, nil
}

// Section returns a view of length bytes starting at logical offset
// begin.
func (s *volumeSet) Section(begin, length int64) *io.SectionReader {
	return io.NewSectionReader(s, begin, length)
}

// Close closes every volume that has a Closer.
func (s *volumeSet) Close() error {
	var errs []error
	for _, source := range s.volumes {
		if source.Closer != nil {
			if err := source.Closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", source.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// readFullAt reads exactly len(p) bytes at off. An io.EOF that comes
// with a full read is not an error.
func readFullAt(r io.ReaderAt, p []byte, off int64) (int, error) {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
