// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Mem is an in-memory WritableFileSystem. Safe for concurrent use.
// Streams opened for reading see a snapshot of the file taken at open.
type Mem struct {
	mu    sync.Mutex
	files map[string]*memFile
}

// NewMem returns an empty in-memory file system.
func NewMem() *Mem {
	return &Mem{files: make(map[string]*memFile)}
}

// WriteFile replaces the content of name.
func (m *Mem) WriteFile(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = &memFile{data: bytes.Clone(data)}
}

// ReadFile returns a copy of the content of name.
func (m *Mem) ReadFile(name string) ([]byte, error) {
	file, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return file.snapshot(), nil
}

// Remove deletes name. Removing a missing name does nothing.
func (m *Mem) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
}

func (m *Mem) lookup(name string) (*memFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return file, nil
}

// ListFiles returns every name, sorted.
func (m *Mem) ListFiles() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetSize returns the current size of name.
func (m *Mem) GetSize(name string) (int64, error) {
	file, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	return file.size(), nil
}

// GetFileType reports Regular for stored names and Directory for any
// prefix of a stored name.
func (m *Mem) GetFileType(name string) FileType {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; ok {
		return Regular
	}
	prefix := strings.TrimSuffix(name, "/") + "/"
	for stored := range m.files {
		if prefix == "/" || strings.HasPrefix(stored, prefix) {
			return Directory
		}
	}
	return None
}

// OpenReadStream opens a snapshot of name.
func (m *Mem) OpenReadStream(name string) (ReadStream, error) {
	file, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	data := file.snapshot()
	return NewReadStream(bytes.NewReader(data), int64(len(data)), nil), nil
}

// OpenWriteStream creates or truncates name.
func (m *Mem) OpenWriteStream(name string) (WriteStream, error) {
	if name == "" {
		return nil, fmt.Errorf("empty file name")
	}
	file := &memFile{}
	m.mu.Lock()
	m.files[name] = file
	m.mu.Unlock()
	return &memWriter{file: file}, nil
}

type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (f *memFile) size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data))
}

func (f *memFile) snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Clone(f.data)
}

// memWriter writes to a memFile. Write appends at its own cursor.
type memWriter struct {
	file   *memFile
	cursor int64
}

func (w *memWriter) Write(p []byte) (int, error) {
	n, err := w.WriteAt(p, w.cursor)
	w.cursor += int64(n)
	return n, err
}

func (w *memWriter) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("write at negative offset %d", off)
	}
	w.file.mu.Lock()
	defer w.file.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(w.file.data)) {
		w.file.data = append(w.file.data, make([]byte, end-int64(len(w.file.data)))...)
	}
	return copy(w.file.data[off:], p), nil
}

func (w *memWriter) ReadAt(p []byte, off int64) (int, error) {
	w.file.mu.Lock()
	defer w.file.mu.Unlock()
	if off < 0 || off >= int64(len(w.file.data)) {
		return 0, io.EOF
	}
	n := copy(p, w.file.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (w *memWriter) Close() error { return nil }
