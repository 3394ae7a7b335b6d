// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"testing"
)

func TestEntryRoundTrip(t *testing.T) {
	entries := []FileEntry{
		{Name: "empty.txt", Digest: emptyDigest},
		{Name: "a.txt", OriginalSize: 40000, BeginPos: 0, Blocks: []int32{120, 88}, Digest: Digest{1, 2, 3}},
		{Name: "nested.nekodata", OriginalSize: 512, BeginPos: 208, Digest: Digest{9}},
	}
	var encoded []byte
	for index := range entries {
		var err error
		encoded, err = appendEntry(encoded, &entries[index])
		if err != nil {
			t.Fatalf("appendEntry(%s) failed: %v", entries[index].Name, err)
		}
	}

	reader := bufio.NewReader(bytes.NewReader(encoded))
	for _, want := range entries {
		got, err := readEntry(reader, int64(len(encoded)))
		if err != nil {
			t.Fatalf("readEntry failed: %v", err)
		}
		if got.Name != want.Name || got.OriginalSize != want.OriginalSize ||
			got.BeginPos != want.BeginPos || !slices.Equal(got.Blocks, want.Blocks) || got.Digest != want.Digest {
			t.Errorf("readEntry = %+v, want %+v", got, want)
		}
	}
	if reader.Buffered() != 0 {
		t.Errorf("%d bytes left after reading all entries", reader.Buffered())
	}
}

func TestAppendEntryRejectsEmptyName(t *testing.T) {
	if _, err := appendEntry(nil, &FileEntry{}); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("appendEntry error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestReadEntryRejectsWrongBlockCount(t *testing.T) {
	encoded, err := appendEntry(nil, &FileEntry{Name: "x", OriginalSize: 3 * BlockSize, Blocks: []int32{10, 10}})
	if err != nil {
		t.Fatalf("appendEntry failed: %v", err)
	}
	_, err = readEntry(bufio.NewReader(bytes.NewReader(encoded)), int64(len(encoded)))
	if !errors.Is(err, ErrCorruptArchive) {
		t.Errorf("readEntry error = %v, want ErrCorruptArchive", err)
	}
}

// directoryPayload builds a logical payload holding filler bytes, the
// encoded entries, and a pointer to them.
func directoryPayload(t *testing.T, filler int, entries ...FileEntry) []byte {
	t.Helper()
	payload := make([]byte, filler)
	for index := range entries {
		var err error
		payload, err = appendEntry(payload, &entries[index])
		if err != nil {
			t.Fatalf("appendEntry failed: %v", err)
		}
	}
	return binary.BigEndian.AppendUint64(payload, uint64(filler))
}

func TestParseDirectory(t *testing.T) {
	payload := directoryPayload(t, 100,
		FileEntry{Name: "one", OriginalSize: 60, BeginPos: 0},
		FileEntry{Name: "two", OriginalSize: 0},
		FileEntry{Name: "three", OriginalSize: 10, BeginPos: 60, Blocks: []int32{40}},
	)
	entries, err := parseDirectory(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("parseDirectory failed: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	if !slices.Equal(names, []string{"one", "two", "three"}) {
		t.Errorf("names = %v, want [one two three]", names)
	}
}

func TestParseDirectoryCorruption(t *testing.T) {
	valid := directoryPayload(t, 16, FileEntry{Name: "one", OriginalSize: 16, BeginPos: 0})

	pointerPastEnd := bytes.Clone(valid)
	binary.BigEndian.PutUint64(pointerPastEnd[len(pointerPastEnd)-8:], uint64(len(valid)))

	pointerMidEntry := bytes.Clone(valid)
	binary.BigEndian.PutUint64(pointerMidEntry[len(pointerMidEntry)-8:], 17)

	overlapping := directoryPayload(t, 16, FileEntry{Name: "one", OriginalSize: 17, BeginPos: 0})

	duplicate := directoryPayload(t, 0, FileEntry{Name: "same"}, FileEntry{Name: "same"})

	// A consistent size and block count that the directory cannot hold.
	const hugeSize = 1 << 50
	hugeBlockCount := AppendUvarint32(nil, 1)
	hugeBlockCount = append(hugeBlockCount, 'a')
	hugeBlockCount = AppendUvarint64(hugeBlockCount, hugeSize)
	hugeBlockCount = AppendUvarint64(hugeBlockCount, 0)
	hugeBlockCount = AppendUvarint64(hugeBlockCount, uint64(BlockCount(hugeSize)))
	hugeBlockCount = append(hugeBlockCount, 1, 1, 1)
	hugeBlockCount = binary.BigEndian.AppendUint64(hugeBlockCount, 0)

	cases := map[string][]byte{
		"too short":         {1, 2, 3},
		"pointer past end":  pointerPastEnd,
		"pointer mid entry": pointerMidEntry,
		"overlapping range": overlapping,
		"duplicate name":    duplicate,
		"huge block count":  hugeBlockCount,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseDirectory(bytes.NewReader(payload), int64(len(payload)))
			if !errors.Is(err, ErrCorruptArchive) {
				t.Errorf("parseDirectory error = %v, want ErrCorruptArchive", err)
			}
		})
	}
}
