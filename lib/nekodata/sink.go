// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"github.com/pixelneko/nekofs/lib/vfs"
)

// fileSystemSink creates volumes as files named by VolumePath.
type fileSystemSink struct {
	fileSystem vfs.WritableFileSystem
	first      string
}

// NewFileSystemSink returns a VolumeSink that creates the volumes of
// the archive whose first volume is first (the .nekodata extension is
// appended when missing) in fileSystem.
func NewFileSystemSink(fileSystem vfs.WritableFileSystem, first string) VolumeSink {
	return &fileSystemSink{fileSystem: fileSystem, first: ArchivePath(first)}
}

func (s *fileSystemSink) CreateVolume(index int) (VolumeFile, error) {
	return s.fileSystem.OpenWriteStream(VolumePath(s.first, index))
}

// nestedSink places the volumes of a nested archive back to back in
// the logical payload stream of its parent, starting at start.
type nestedSink struct {
	parent     *volumeWriter
	start      int64
	volumeSize int64
}

func (s *nestedSink) CreateVolume(index int) (VolumeFile, error) {
	return &nestedVolume{parent: s.parent, base: s.start + int64(index)*s.volumeSize}, nil
}

// nestedVolume is one nested volume, addressed relative to base in
// the parent's logical stream.
type nestedVolume struct {
	parent *volumeWriter
	base   int64
}

func (v *nestedVolume) WriteAt(p []byte, off int64) (int, error) {
	return v.parent.WriteAt(p, v.base+off)
}

func (v *nestedVolume) ReadAt(p []byte, off int64) (int, error) {
	return v.parent.ReadAt(p, v.base+off)
}

// Close does nothing; the parent owns the physical volumes.
func (v *nestedVolume) Close() error { return nil }
