// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package vfs defines the minimal file system contract shared by the
// archive encoder (which reads source files through it) and the
// archive decoder (which exposes an archive through it), with an OS
// implementation and an in-memory one.
//
// Names are slash-separated and relative to the file system root.
package vfs

import (
	"errors"
	"io"
)

// ErrNotExist reports a name that does not exist in a file system.
var ErrNotExist = errors.New("vfs: file does not exist")

// FileType classifies a name.
type FileType int

const (
	// None means the name does not exist.
	None FileType = iota
	// Regular is a file with content.
	Regular
	// Directory is a directory.
	Directory
)

func (t FileType) String() string {
	switch t {
	case Regular:
		return "regular"
	case Directory:
		return "directory"
	default:
		return "none"
	}
}

// ReadStream is an open file. ReadAt is safe for concurrent use; Read
// and Seek share one cursor and are not.
type ReadStream interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
	Size() int64
}

// FileSystem is a read-only file tree.
type FileSystem interface {
	// ListFiles returns the names of every regular file.
	ListFiles() ([]string, error)
	// OpenReadStream opens a regular file for reading.
	OpenReadStream(name string) (ReadStream, error)
	// GetSize returns the size in bytes of a regular file.
	GetSize(name string) (int64, error)
	// GetFileType classifies name. Errors are reported as None.
	GetFileType(name string) FileType
}

// WriteStream is a file opened for writing. Random-access writes and
// read-back are supported so that trailers can be patched in place.
type WriteStream interface {
	io.Writer
	io.WriterAt
	io.ReaderAt
	io.Closer
}

// WritableFileSystem is a FileSystem that can create files.
type WritableFileSystem interface {
	FileSystem
	// OpenWriteStream creates name, truncating any existing file and
	// creating parent directories as needed.
	OpenWriteStream(name string) (WriteStream, error)
}

// sectionStream adapts an io.ReaderAt of known size to ReadStream.
type sectionStream struct {
	*io.SectionReader
	closer io.Closer
}

// NewReadStream wraps a ReaderAt of the given size as a ReadStream.
// closer may be nil.
func NewReadStream(r io.ReaderAt, size int64, closer io.Closer) ReadStream {
	return &sectionStream{SectionReader: io.NewSectionReader(r, 0, size), closer: closer}
}

func (s *sectionStream) Close() error {
	if s.closer == nil {
		return nil
	}
	closer := s.closer
	s.closer = nil
	return closer.Close()
}
