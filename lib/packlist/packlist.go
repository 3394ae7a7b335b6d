// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package packlist reads pack lists: JSONC documents that describe
// what "nekodata pack" puts into an archive.
//
// A pack list names individual files, whole directories, nested
// archives (which are pack lists themselves), and entries copied
// verbatim from existing archives:
//
//	{
//	  // Paths are relative to root, itself relative to the list.
//	  "root": "assets",
//	  "entries": [
//	    {"name": "config.json", "path": "config/release.json"},
//	    {"dir": "textures", "name": "tex"},
//	    {"name": "dlc.nekodata", "archive": {"entries": [
//	      {"dir": "dlc"},
//	    ]}},
//	    {"name": "intro.bik", "copy": {"archive": "../base.nekodata", "entry": "intro.bik"}},
//	  ],
//	}
//
// The flow is [ReadFile] or [Parse], then [List.Validate], then
// [List.Apply] to register everything with an encoder.
package packlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/pixelneko/nekofs/lib/nekodata"
	"github.com/pixelneko/nekofs/lib/vfs"
)

// List is one archive's worth of entries.
type List struct {
	// Root is the directory paths are relative to. A nested list's
	// Root is relative to its parent's.
	Root string `json:"root,omitempty"`

	Entries []Entry `json:"entries"`
}

// Entry is one line of a pack list. Exactly one of Path, Dir, Archive
// and Copy is set.
type Entry struct {
	// Name is the entry name in the archive. For Dir entries it is an
	// optional prefix; the directory's relative paths follow it.
	Name string `json:"name,omitempty"`

	// Path is a single file.
	Path string `json:"path,omitempty"`

	// Dir adds every file below a directory.
	Dir string `json:"dir,omitempty"`

	// Archive is a nested archive built from its own list.
	Archive *List `json:"archive,omitempty"`

	// Copy takes an entry from an existing archive without
	// recompressing it.
	Copy *CopySource `json:"copy,omitempty"`
}

// CopySource names an entry of another archive.
type CopySource struct {
	Archive string `json:"archive"`
	Entry   string `json:"entry"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a List.
func Parse(data []byte) (*List, error) {
	stripped := jsonc.ToJSON(data)

	var list List
	if err := json.Unmarshal(stripped, &list); err != nil {
		return nil, fmt.Errorf("parsing pack list: %w", err)
	}
	return &list, nil
}

// ReadFile reads and parses a pack list. A relative Root is resolved
// against the list's directory.
func ReadFile(listPath string) (*List, error) {
	data, err := os.ReadFile(listPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", listPath, err)
	}
	list, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", listPath, err)
	}
	if !filepath.IsAbs(list.Root) {
		list.Root = filepath.Join(filepath.Dir(listPath), list.Root)
	}
	return list, nil
}

// FromDirectory lists every file of fileSystem under its own path.
func FromDirectory(fileSystem vfs.FileSystem) (*List, error) {
	names, err := fileSystem.ListFiles()
	if err != nil {
		return nil, err
	}
	list := &List{Entries: make([]Entry, 0, len(names))}
	for _, name := range names {
		list.Entries = append(list.Entries, Entry{Name: name, Path: name})
	}
	return list, nil
}

// Validate checks the structure of the list and its nested lists and
// reports every problem found.
func (l *List) Validate() error {
	return errors.Join(l.validate("entries")...)
}

func (l *List) validate(where string) []error {
	var errs []error
	names := make(map[string]int)
	for index, entry := range l.Entries {
		at := fmt.Sprintf("%s[%d]", where, index)
		set := 0
		for _, present := range []bool{entry.Path != "", entry.Dir != "", entry.Archive != nil, entry.Copy != nil} {
			if present {
				set++
			}
		}
		if set != 1 {
			errs = append(errs, fmt.Errorf("%s: exactly one of path, dir, archive, copy must be set", at))
			continue
		}
		if entry.Dir == "" {
			if entry.Name == "" {
				errs = append(errs, fmt.Errorf("%s: name is required", at))
			} else if previous, ok := names[entry.Name]; ok {
				errs = append(errs, fmt.Errorf("%s: name %q already used by %s[%d]", at, entry.Name, where, previous))
			} else {
				names[entry.Name] = index
			}
		}
		if entry.Copy != nil && (entry.Copy.Archive == "" || entry.Copy.Entry == "") {
			errs = append(errs, fmt.Errorf("%s: copy needs archive and entry", at))
		}
		if entry.Archive != nil {
			errs = append(errs, entry.Archive.validate(at+".archive.entries")...)
		}
	}
	return errs
}

// Apply registers every entry of the list with encoder. fileSystem is
// rooted at the list's Root; nested lists' roots are relative to it.
// Archives opened for Copy entries stay open until the returned Closer
// is closed, which must happen after the encoder's Archive returns.
func (l *List) Apply(encoder *nekodata.Encoder, fileSystem vfs.FileSystem) (io.Closer, error) {
	sources := &copySources{fileSystem: fileSystem, readers: make(map[string]*nekodata.Reader)}
	if err := l.apply(encoder, sources, ""); err != nil {
		sources.Close()
		return nil, err
	}
	return sources, nil
}

func (l *List) apply(encoder *nekodata.Encoder, sources *copySources, root string) error {
	for index, entry := range l.Entries {
		if err := applyEntry(encoder, sources, root, entry); err != nil {
			return fmt.Errorf("entry %d: %w", index, err)
		}
	}
	return nil
}

func applyEntry(encoder *nekodata.Encoder, sources *copySources, root string, entry Entry) error {
	switch {
	case entry.Path != "":
		return encoder.AddFile(entry.Name, sources.fileSystem, joinPath(root, entry.Path))

	case entry.Dir != "":
		return addDirectory(encoder, sources.fileSystem, joinPath(root, entry.Dir), entry.Name)

	case entry.Archive != nil:
		child, err := encoder.AddNestedArchive(entry.Name)
		if err != nil {
			return err
		}
		return entry.Archive.apply(child, sources, joinPath(root, entry.Archive.Root))

	case entry.Copy != nil:
		reader, err := sources.open(joinPath(root, entry.Copy.Archive))
		if err != nil {
			return err
		}
		return encoder.AddReaderEntry(entry.Name, reader, entry.Copy.Entry)
	}
	return fmt.Errorf("%s: nothing to pack", entry.Name)
}

// addDirectory adds every file below dir, named prefix + relative path.
func addDirectory(encoder *nekodata.Encoder, fileSystem vfs.FileSystem, dir, prefix string) error {
	if dir == "." {
		dir = ""
	}
	if dir != "" && fileSystem.GetFileType(dir) != vfs.Directory {
		return fmt.Errorf("%s: not a directory", dir)
	}
	names, err := fileSystem.ListFiles()
	if err != nil {
		return err
	}
	below := ""
	if dir != "" {
		below = dir + "/"
	}
	for _, name := range names {
		relative, ok := strings.CutPrefix(name, below)
		if !ok {
			continue
		}
		if err := encoder.AddFile(joinPath(prefix, relative), fileSystem, name); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(root, name string) string {
	switch {
	case name == "":
		return root
	case root == "" || path.IsAbs(name):
		return path.Clean(name)
	}
	return path.Join(filepath.ToSlash(root), name)
}

// copySources keeps the archives read by Copy entries open, one Reader
// per archive.
type copySources struct {
	fileSystem vfs.FileSystem
	readers    map[string]*nekodata.Reader
}

func (s *copySources) open(archive string) (*nekodata.Reader, error) {
	if reader, ok := s.readers[archive]; ok {
		return reader, nil
	}
	reader, err := nekodata.OpenFS(s.fileSystem, archive, nekodata.ReaderOptions{})
	if err != nil {
		return nil, err
	}
	s.readers[archive] = reader
	return reader, nil
}

// Close closes every opened archive.
func (s *copySources) Close() error {
	var errs []error
	for _, reader := range s.readers {
		errs = append(errs, reader.Close())
	}
	clear(s.readers)
	return errors.Join(errs...)
}
