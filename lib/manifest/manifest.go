// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest describes the contents of a nekodata archive as a
// self-contained document: the central directory, volume geometry and,
// optionally, a BLAKE3 fingerprint of every entry's decoded content.
//
// Manifests are encoded as JSON for people and deterministic CBOR (see
// lib/codec) for tools; the same archive always yields the same CBOR
// bytes. Two manifests can be compared with [Diff] to see which entries
// changed between builds regardless of compression settings.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pixelneko/nekofs/lib/codec"
	"github.com/pixelneko/nekofs/lib/nekodata"
)

// FormatVersion is the manifest layout version.
const FormatVersion = 1

// Manifest is a snapshot of one archive.
type Manifest struct {
	Format      int     `json:"format"`
	VolumeSize  int64   `json:"volume_size"`
	Volumes     int     `json:"volumes"`
	PayloadSize int64   `json:"payload_size"`
	Entries     []Entry `json:"entries"`
}

// Entry describes one directory record.
type Entry struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	StoredSize int64  `json:"stored_size"`
	Blocks     int    `json:"blocks,omitempty"`

	// Opaque entries (nested archives, raw blobs) are stored verbatim.
	Opaque bool `json:"opaque,omitempty"`

	Digest      nekodata.Digest       `json:"digest"`
	Fingerprint *nekodata.Fingerprint `json:"fingerprint,omitempty"`
}

// Options controls [Build].
type Options struct {
	// Fingerprints decodes every entry to compute its content
	// fingerprint. This reads the whole archive.
	Fingerprints bool
}

// Build captures the directory of reader.
func Build(reader *nekodata.Reader, options Options) (*Manifest, error) {
	directory := reader.Entries()
	manifest := &Manifest{
		Format:      FormatVersion,
		VolumeSize:  reader.VolumeSize(),
		Volumes:     reader.VolumeCount(),
		PayloadSize: reader.PayloadSize(),
		Entries:     make([]Entry, 0, len(directory)),
	}
	for _, record := range directory {
		entry := Entry{
			Name:       record.Name,
			Size:       record.OriginalSize,
			StoredSize: record.StoredSize(),
			Blocks:     len(record.Blocks),
			Opaque:     record.Opaque(),
			Digest:     record.Digest,
		}
		if options.Fingerprints {
			fingerprint, err := reader.ContentFingerprint(record.Name)
			if err != nil {
				return nil, fmt.Errorf("building manifest: %w", err)
			}
			entry.Fingerprint = &fingerprint
		}
		manifest.Entries = append(manifest.Entries, entry)
	}
	return manifest, nil
}

// Lookup returns the entry named name.
func (m *Manifest) Lookup(name string) (Entry, bool) {
	for _, entry := range m.Entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return Entry{}, false
}

// EncodeCBOR returns the deterministic CBOR encoding of m.
func (m *Manifest) EncodeCBOR() ([]byte, error) {
	return codec.Marshal(m)
}

// WriteJSON writes m as indented JSON.
func (m *Manifest) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(m)
}

// Decode parses a manifest in either encoding. JSON documents start
// with '{'; anything else is read as CBOR.
func Decode(data []byte) (*Manifest, error) {
	var manifest Manifest
	var err error
	if isJSON(data) {
		err = json.Unmarshal(data, &manifest)
	} else {
		err = codec.Unmarshal(data, &manifest)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if manifest.Format != FormatVersion {
		return nil, fmt.Errorf("unsupported manifest format %d", manifest.Format)
	}
	return &manifest, nil
}

func isJSON(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
