// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// OS is a WritableFileSystem rooted at a directory of the host file
// system. With an empty root, names are host paths used as given.
type OS struct {
	root string
}

// NewOS returns an OS file system rooted at root.
func NewOS(root string) *OS {
	return &OS{root: root}
}

// Root returns the root directory.
func (o *OS) Root() string { return o.root }

func (o *OS) path(name string) string {
	if o.root == "" {
		return filepath.FromSlash(name)
	}
	return filepath.Join(o.root, filepath.FromSlash(name))
}

// ListFiles walks the root and returns every regular file as a
// slash-separated relative name, sorted.
func (o *OS) ListFiles() ([]string, error) {
	root := o.root
	if root == "" {
		root = "."
	}
	var names []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(relative))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	sort.Strings(names)
	return names, nil
}

// GetSize returns the size of a regular file.
func (o *OS) GetSize(name string) (int64, error) {
	info, err := os.Stat(o.path(name))
	if err != nil {
		return 0, notExist(name, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", name)
	}
	return info.Size(), nil
}

// GetFileType classifies name.
func (o *OS) GetFileType(name string) FileType {
	info, err := os.Stat(o.path(name))
	switch {
	case err != nil:
		return None
	case info.IsDir():
		return Directory
	case info.Mode().IsRegular():
		return Regular
	default:
		return None
	}
}

// OpenReadStream opens a regular file. On linux and darwin the file is
// memory mapped.
func (o *OS) OpenReadStream(name string) (ReadStream, error) {
	stream, err := openMapped(o.path(name))
	if err != nil {
		return nil, notExist(name, err)
	}
	return stream, nil
}

// OpenWriteStream creates name, truncating an existing file.
func (o *OS) OpenWriteStream(name string) (WriteStream, error) {
	path := o.path(name)
	if directory := filepath.Dir(path); directory != "." {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", name, err)
		}
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return file, nil
}

// openFile opens path with plain positional reads.
func openFile(path string) (ReadStream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return NewReadStream(file, info.Size(), file), nil
}

func notExist(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return err
}
