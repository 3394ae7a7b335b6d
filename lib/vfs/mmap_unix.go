// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package vfs

import (
	"fmt"
	"io"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// mappedFile is a read-only memory map of a whole file.
type mappedFile struct {
	data []byte
	size int64
}

// openMapped maps path read-only. Empty files cannot be mapped and
// fall back to positional reads.
func openMapped(path string) (ReadStream, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFREG {
		unix.Close(fd)
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if stat.Size == 0 {
		unix.Close(fd)
		return openFile(path)
	}

	data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ, unix.MAP_SHARED)
	// The mapping stays valid after the descriptor is closed.
	unix.Close(fd)
	if err != nil {
		return openFile(path)
	}
	mapped := &mappedFile{data: data, size: stat.Size}
	return NewReadStream(mapped, mapped.size, mapped), nil
}

// ReadAt copies from the mapping. A page fault from a failing or
// truncated backing file is turned into an error.
func (m *mappedFile) ReadAt(p []byte, off int64) (readCount int, err error) {
	if off < 0 || off >= m.size {
		return 0, io.EOF
	}

	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = fmt.Errorf("page fault reading mapped file at offset %d: %v", off, r)
		}
	}()

	readCount = copy(p, m.data[off:])
	if readCount < len(p) {
		return readCount, io.EOF
	}
	return readCount, nil
}

// Close unmaps the file.
func (m *mappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if err != nil {
		return fmt.Errorf("unmapping file: %w", err)
	}
	return nil
}
