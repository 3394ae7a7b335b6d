// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pixelneko/nekofs/lib/nekodata"
	"github.com/pixelneko/nekofs/lib/testutil"
	"github.com/pixelneko/nekofs/lib/vfs"
)

// packArchive builds an archive of files with the given compression
// level and opens it.
func packArchive(t *testing.T, level int, files map[string][]byte, order ...string) *nekodata.Reader {
	t.Helper()
	fileSystem := vfs.NewMem()
	encoder, err := nekodata.NewEncoder(nekodata.NewFileSystemSink(fileSystem, "game"),
		nekodata.EncoderOptions{Workers: 2, CompressionLevel: level})
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	for _, name := range order {
		if err := encoder.AddBuffer(name, files[name]); err != nil {
			t.Fatalf("AddBuffer(%s) failed: %v", name, err)
		}
	}
	if err := encoder.Archive(context.Background()); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	reader, err := nekodata.OpenFS(fileSystem, "game.nekodata", nekodata.ReaderOptions{})
	if err != nil {
		t.Fatalf("OpenFS failed: %v", err)
	}
	t.Cleanup(func() { reader.Close() })
	return reader
}

func sampleFiles() map[string][]byte {
	return map[string][]byte{
		"config.json":    []byte(`{"speed": 3}`),
		"empty":          nil,
		"textures/a.png": testutil.Pattern("texture", 3*nekodata.BlockSize+5),
	}
}

func TestBuild(t *testing.T) {
	files := sampleFiles()
	reader := packArchive(t, 9, files, "config.json", "empty", "textures/a.png")

	built, err := Build(reader, Options{Fingerprints: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if built.Format != FormatVersion || built.Volumes != 1 || built.VolumeSize != nekodata.DefaultVolumeSize {
		t.Errorf("manifest header = %+v", built)
	}
	if len(built.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(built.Entries))
	}
	if built.Entries[0].Name != "config.json" || built.Entries[2].Name != "textures/a.png" {
		t.Errorf("entries out of directory order: %v", built.Entries)
	}

	texture, ok := built.Lookup("textures/a.png")
	if !ok {
		t.Fatal("Lookup(textures/a.png) failed")
	}
	if texture.Size != int64(len(files["textures/a.png"])) || texture.Blocks != 4 || texture.Opaque {
		t.Errorf("texture entry = %+v", texture)
	}
	if texture.Fingerprint == nil {
		t.Fatal("texture has no fingerprint")
	}
	direct, err := reader.ContentFingerprint("textures/a.png")
	if err != nil {
		t.Fatalf("ContentFingerprint failed: %v", err)
	}
	if *texture.Fingerprint != direct {
		t.Errorf("fingerprint = %s, want %s", texture.Fingerprint, direct)
	}

	plain, err := Build(reader, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, entry := range plain.Entries {
		if entry.Fingerprint != nil {
			t.Errorf("%s has a fingerprint without Options.Fingerprints", entry.Name)
		}
	}
}

func TestEncodingsRoundTrip(t *testing.T) {
	reader := packArchive(t, 9, sampleFiles(), "config.json", "empty", "textures/a.png")
	built, err := Build(reader, Options{Fingerprints: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	encoded, err := built.EncodeCBOR()
	if err != nil {
		t.Fatalf("EncodeCBOR failed: %v", err)
	}
	again, err := built.EncodeCBOR()
	if err != nil {
		t.Fatalf("EncodeCBOR failed: %v", err)
	}
	if !bytes.Equal(encoded, again) {
		t.Error("CBOR encoding is not deterministic")
	}

	var text bytes.Buffer
	if err := built.WriteJSON(&text); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if !strings.Contains(text.String(), `"digest": "`+built.Entries[0].Digest.String()+`"`) {
		t.Errorf("JSON does not carry the hex digest:\n%s", text.String())
	}

	for name, data := range map[string][]byte{"cbor": encoded, "json": text.Bytes()} {
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", name, err)
		}
		if len(Diff(built, decoded)) != 0 || len(decoded.Entries) != len(built.Entries) {
			t.Errorf("Decode(%s) differs from the original", name)
		}
		if *decoded.Entries[2].Fingerprint != *built.Entries[2].Fingerprint {
			t.Errorf("Decode(%s) lost the fingerprint", name)
		}
	}
}

func TestDecodeRejectsUnknownFormat(t *testing.T) {
	if _, err := Decode([]byte(`{"format": 7}`)); err == nil {
		t.Error("Decode accepted format 7")
	}
	if _, err := Decode([]byte{0xff, 0x00}); err == nil {
		t.Error("Decode accepted garbage")
	}
}

func TestDiff(t *testing.T) {
	files := sampleFiles()
	fast := packArchive(t, 1, files, "config.json", "empty", "textures/a.png")

	changed := sampleFiles()
	changed["config.json"] = []byte(`{"speed": 4}`)
	delete(changed, "empty")
	changed["new.txt"] = []byte("hello")
	slow := packArchive(t, 9, changed, "config.json", "textures/a.png", "new.txt")

	before, err := Build(fast, Options{Fingerprints: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	after, err := Build(slow, Options{Fingerprints: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	changes := Diff(before, after)
	want := []Change{
		{Kind: Modified, Name: "config.json"},
		{Kind: Removed, Name: "empty"},
		{Kind: Added, Name: "new.txt"},
	}
	if len(changes) != len(want) {
		t.Fatalf("Diff = %v, want %v", changes, want)
	}
	for index := range want {
		if changes[index] != want[index] {
			t.Errorf("change %d = %v, want %v", index, changes[index], want[index])
		}
	}
}
