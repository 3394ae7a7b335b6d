// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package packlist

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/pixelneko/nekofs/lib/nekodata"
	"github.com/pixelneko/nekofs/lib/testutil"
	"github.com/pixelneko/nekofs/lib/vfs"
)

const sampleList = `{
  // Everything below comes from the asset tree.
  "entries": [
    {"name": "config.json", "path": "config/release.json"},
    {"dir": "textures", "name": "tex"},
    {"name": "dlc.nekodata", "archive": {
      "root": "dlc",
      "entries": [
        {"dir": "."},
      ],
    }},
    {"name": "intro.bik", "copy": {"archive": "base.nekodata", "entry": "movie"}},
  ],
}`

func TestParse(t *testing.T) {
	list, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := list.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(list.Entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(list.Entries))
	}
	if list.Entries[2].Archive == nil || list.Entries[2].Archive.Root != "dlc" {
		t.Errorf("nested archive = %+v", list.Entries[2].Archive)
	}
	if copied := list.Entries[3].Copy; copied == nil || copied.Entry != "movie" {
		t.Errorf("copy = %+v", copied)
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := Parse([]byte(`{"entries": [`)); err == nil {
		t.Error("Parse accepted truncated input")
	}
}

func TestValidate(t *testing.T) {
	list := &List{Entries: []Entry{
		{Name: "a", Path: "a", Dir: "b"},
		{Path: "nameless"},
		{Name: "dup", Path: "x"},
		{Name: "dup", Path: "y"},
		{Name: "c", Copy: &CopySource{Archive: "base.nekodata"}},
		{Name: "n", Archive: &List{Entries: []Entry{{Name: "inner"}}}},
	}}
	err := list.Validate()
	if err == nil {
		t.Fatal("Validate() succeeded, want errors")
	}
	for _, want := range []string{
		"entries[0]: exactly one",
		"entries[1]: name is required",
		`entries[3]: name "dup" already used by entries[2]`,
		"entries[4]: copy needs archive and entry",
		"entries[5].archive.entries[0]: exactly one",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

func TestReadFileResolvesRoot(t *testing.T) {
	directory := t.TempDir()
	listPath := filepath.Join(directory, "game.jsonc")
	if err := os.WriteFile(listPath, []byte(`{"root": "assets", "entries": []}`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	list, err := ReadFile(listPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if list.Root != filepath.Join(directory, "assets") {
		t.Errorf("Root = %q, want %q", list.Root, filepath.Join(directory, "assets"))
	}
}

// baseArchive writes base.nekodata holding one entry into fileSystem.
func baseArchive(t *testing.T, fileSystem *vfs.Mem, content []byte) {
	t.Helper()
	encoder, err := nekodata.NewEncoder(nekodata.NewFileSystemSink(fileSystem, "base"), nekodata.EncoderOptions{Workers: 1})
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	if err := encoder.AddBuffer("movie", content); err != nil {
		t.Fatalf("AddBuffer failed: %v", err)
	}
	if err := encoder.Archive(context.Background()); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
}

func readAll(t *testing.T, reader *nekodata.Reader, name string) []byte {
	t.Helper()
	stream, err := reader.OpenDecodedStream(name)
	if err != nil {
		t.Fatalf("OpenDecodedStream(%s) failed: %v", name, err)
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("reading %s failed: %v", name, err)
	}
	return data
}

func TestApply(t *testing.T) {
	assets := vfs.NewMem()
	assets.WriteFile("config/release.json", []byte(`{"speed": 3}`))
	assets.WriteFile("textures/cat.png", testutil.Pattern("cat", 70000))
	assets.WriteFile("textures/ui/button.png", []byte("button"))
	assets.WriteFile("dlc/level1.map", []byte("level one"))
	movie := testutil.Random(7, 50000)
	baseArchive(t, assets, movie)

	list, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	output := vfs.NewMem()
	encoder, err := nekodata.NewEncoder(nekodata.NewFileSystemSink(output, "game"), nekodata.EncoderOptions{Workers: 2})
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	closer, err := list.Apply(encoder, assets)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := encoder.Archive(context.Background()); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader, err := nekodata.OpenFS(output, "game.nekodata", nekodata.ReaderOptions{})
	if err != nil {
		t.Fatalf("OpenFS failed: %v", err)
	}
	defer reader.Close()

	names, _ := reader.ListFiles()
	want := []string{"config.json", "tex/cat.png", "tex/ui/button.png", "dlc.nekodata", "intro.bik"}
	if !slices.Equal(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	if got := readAll(t, reader, "tex/cat.png"); !bytes.Equal(got, testutil.Pattern("cat", 70000)) {
		t.Error("tex/cat.png content differs")
	}
	if got := readAll(t, reader, "intro.bik"); !bytes.Equal(got, movie) {
		t.Error("copied intro.bik content differs")
	}
	if err := reader.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	nested, err := reader.OpenNested("dlc.nekodata")
	if err != nil {
		t.Fatalf("OpenNested failed: %v", err)
	}
	defer nested.Close()
	if got := readAll(t, nested, "level1.map"); string(got) != "level one" {
		t.Errorf("nested level1.map = %q", got)
	}
}

func TestApply_MissingDirectory(t *testing.T) {
	list := &List{Entries: []Entry{{Dir: "nowhere"}}}
	encoder, err := nekodata.NewEncoder(nekodata.NewFileSystemSink(vfs.NewMem(), "x"), nekodata.EncoderOptions{})
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	if _, err := list.Apply(encoder, vfs.NewMem()); err == nil {
		t.Error("Apply succeeded for a missing directory")
	}
}

func TestFromDirectory(t *testing.T) {
	fileSystem := vfs.NewMem()
	fileSystem.WriteFile("b.txt", []byte("b"))
	fileSystem.WriteFile("a/c.txt", []byte("c"))
	list, err := FromDirectory(fileSystem)
	if err != nil {
		t.Fatalf("FromDirectory failed: %v", err)
	}
	if err := list.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	var names []string
	for _, entry := range list.Entries {
		names = append(names, entry.Name)
		if entry.Path != entry.Name {
			t.Errorf("entry %q has path %q", entry.Name, entry.Path)
		}
	}
	if !slices.Equal(names, []string{"a/c.txt", "b.txt"}) {
		t.Errorf("names = %v", names)
	}
}
