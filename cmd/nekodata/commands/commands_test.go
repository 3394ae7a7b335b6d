// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/config"
	"github.com/pixelneko/nekofs/lib/manifest"
	"github.com/pixelneko/nekofs/lib/nekodata"
	"github.com/pixelneko/nekofs/lib/testutil"
	"github.com/pixelneko/nekofs/lib/vfs"
)

// walkCommands visits every command in the tree with its path.
func walkCommands(command *cli.Command, path []string, visit func(*cli.Command, []string)) {
	current := append(slices.Clone(path), command.Name)
	visit(command, current)
	for _, sub := range command.Subcommands {
		walkCommands(sub, current, visit)
	}
}

func TestCommandTree(t *testing.T) {
	seen := make(map[string]bool)
	walkCommands(Root(), nil, func(command *cli.Command, path []string) {
		name := strings.Join(path, " ")
		if seen[name] {
			t.Errorf("%s: duplicate command", name)
		}
		seen[name] = true
		if len(path) > 1 && command.Summary == "" {
			t.Errorf("%s: missing Summary", name)
		}
		if command.Run == nil && len(command.Subcommands) == 0 {
			t.Errorf("%s: neither Run nor Subcommands", name)
		}
		if command.Flags != nil {
			// Panics on a badly tagged params struct.
			command.Flags()
		}
	})
	for _, want := range []string{
		"nekodata pack", "nekodata list", "nekodata verify", "nekodata cat",
		"nekodata unpack", "nekodata export", "nekodata manifest show",
		"nekodata manifest diff", "nekodata mount", "nekodata version",
	} {
		if !seen[want] {
			t.Errorf("command %q missing from the tree", want)
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

var sourceFiles = map[string][]byte{
	"a.txt":     bytes.Repeat([]byte("hello nekodata "), 400),
	"sub/b.bin": testutil.Random(7, nekodata.BlockSize+333),
	"empty":     nil,
}

// writeTree writes files under a new temporary directory.
func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	for name, data := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return root
}

// packTree packs files into a new archive and returns its path.
func packTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	params := &packParams{
		Dir:        writeTree(t, files),
		VolumeSize: cli.ByteSize(nekodata.VolumeUnit),
		Workers:    2,
		Verify:     true,
	}
	archivePath := filepath.Join(t.TempDir(), "game")
	var output bytes.Buffer
	if err := runPack(context.Background(), params, config.Default(), archivePath, &output, discardLogger()); err != nil {
		t.Fatalf("runPack failed: %v", err)
	}
	if !strings.Contains(output.String(), "3 entries") {
		t.Errorf("pack output = %q, want an entry count of 3", output.String())
	}
	return nekodata.ArchivePath(archivePath)
}

func openPacked(t *testing.T, path string) *nekodata.Reader {
	t.Helper()
	reader, err := openArchive(path, discardLogger())
	if err != nil {
		t.Fatalf("openArchive failed: %v", err)
	}
	t.Cleanup(func() { reader.Close() })
	return reader
}

func TestPackAndList(t *testing.T) {
	reader := openPacked(t, packTree(t, sourceFiles))

	var output bytes.Buffer
	if err := runList(reader, &listParams{Long: true}, &output); err != nil {
		t.Fatalf("runList failed: %v", err)
	}
	text := output.String()
	for _, want := range []string{"NAME", "a.txt", "sub/b.bin", "empty", "DIGEST"} {
		if !strings.Contains(text, want) {
			t.Errorf("list output missing %q:\n%s", want, text)
		}
	}

	output.Reset()
	params := &listParams{}
	params.OutputJSON = true
	if err := runList(reader, params, &output); err != nil {
		t.Fatalf("runList --json failed: %v", err)
	}
	if !strings.Contains(output.String(), `"name": "sub/b.bin"`) {
		t.Errorf("JSON output missing sub/b.bin:\n%s", output.String())
	}
}

func TestPackRequiresOneSource(t *testing.T) {
	for _, params := range []*packParams{{}, {List: "a.jsonc", Dir: "b"}} {
		err := runPack(context.Background(), params, config.Default(), filepath.Join(t.TempDir(), "x"), io.Discard, discardLogger())
		if err == nil {
			t.Errorf("runPack(list=%q, dir=%q) succeeded, want error", params.List, params.Dir)
		}
	}
}

func TestPackCanceledRemovesVolumes(t *testing.T) {
	output := t.TempDir()
	unrelated := filepath.Join(output, "other.nekodata")
	if err := os.WriteFile(unrelated, []byte("keep"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	params := &packParams{
		Dir:        writeTree(t, sourceFiles),
		VolumeSize: cli.ByteSize(nekodata.VolumeUnit),
		Workers:    2,
	}
	err := runPack(ctx, params, config.Default(), filepath.Join(output, "game"), io.Discard, discardLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("runPack error = %v, want context.Canceled", err)
	}

	matches, err := filepath.Glob(filepath.Join(output, "game*"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("volumes left after canceled pack: %v", matches)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Errorf("unrelated archive removed: %v", err)
	}
}

func TestTrackingSinkRemovesCreatedVolumes(t *testing.T) {
	first := filepath.Join(t.TempDir(), "game.nekodata")
	sink := &trackingSink{
		VolumeSink: nekodata.NewFileSystemSink(vfs.NewOS(""), first),
		first:      first,
	}
	for index := range 3 {
		file, err := sink.CreateVolume(index)
		if err != nil {
			t.Fatalf("CreateVolume(%d) failed: %v", index, err)
		}
		if _, err := file.WriteAt([]byte("partial"), 0); err != nil {
			t.Fatalf("WriteAt failed: %v", err)
		}
		if err := file.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}
	stale := nekodata.VolumePath(first, 3)
	if err := os.WriteFile(stale, []byte("older run"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := sink.removeCreated(); err != nil {
		t.Fatalf("removeCreated failed: %v", err)
	}
	for index := range 3 {
		if _, err := os.Stat(nekodata.VolumePath(first, index)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("volume %d still present: %v", index, err)
		}
	}
	if _, err := os.Stat(stale); err != nil {
		t.Errorf("volume not created by the sink was removed: %v", err)
	}
}

func TestPackFromList(t *testing.T) {
	root := writeTree(t, sourceFiles)
	list := `{
  // everything but the empty file
  "entries": [
    {"name": "readme", "path": "a.txt"},
    {"dir": "sub", "name": "data"},
  ],
}`
	listPath := filepath.Join(root, "pack.jsonc")
	if err := os.WriteFile(listPath, []byte(list), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	archivePath := filepath.Join(t.TempDir(), "listed.nekodata")
	err := runPack(context.Background(), &packParams{List: listPath, Workers: 1}, config.Default(), archivePath, io.Discard, discardLogger())
	if err != nil {
		t.Fatalf("runPack failed: %v", err)
	}
	names, err := openPacked(t, archivePath).ListFiles()
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if !slices.Equal(names, []string{"readme", "data/b.bin"}) {
		t.Errorf("names = %v, want [readme data/b.bin]", names)
	}
}

func TestVerify(t *testing.T) {
	archivePath := packTree(t, sourceFiles)

	var output bytes.Buffer
	if err := runVerify(openPacked(t, archivePath), nil, &output); err != nil {
		t.Fatalf("runVerify failed: %v", err)
	}
	if !strings.Contains(output.String(), "ok: 3 entries") {
		t.Errorf("verify output = %q", output.String())
	}

	// The first entry's stored bytes start right after the header.
	data, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data[9] ^= 0xFF
	corrupted := filepath.Join(t.TempDir(), "corrupt.nekodata")
	if err := os.WriteFile(corrupted, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	output.Reset()
	err = runVerify(openPacked(t, corrupted), nil, &output)
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		t.Fatalf("runVerify error = %v, want exit code 1", err)
	}
	if !strings.Contains(output.String(), "MISMATCH a.txt") {
		t.Errorf("verify output = %q, want a mismatch for a.txt", output.String())
	}
}

func TestCat(t *testing.T) {
	reader := openPacked(t, packTree(t, sourceFiles))

	var output bytes.Buffer
	if err := runCat(reader, []string{"a.txt", "sub/b.bin"}, false, &output); err != nil {
		t.Fatalf("runCat failed: %v", err)
	}
	want := append(slices.Clone(sourceFiles["a.txt"]), sourceFiles["sub/b.bin"]...)
	if !bytes.Equal(output.Bytes(), want) {
		t.Error("cat output differs from the concatenated sources")
	}

	output.Reset()
	if err := runCat(reader, []string{"a.txt"}, true, &output); err != nil {
		t.Fatalf("runCat --raw failed: %v", err)
	}
	entry, _ := reader.Entry("a.txt")
	if int64(output.Len()) != entry.StoredSize() {
		t.Errorf("raw output is %d bytes, want %d", output.Len(), entry.StoredSize())
	}

	if err := runCat(reader, []string{"missing"}, false, io.Discard); !errors.Is(err, nekodata.ErrNotFound) {
		t.Errorf("runCat(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUnpack(t *testing.T) {
	reader := openPacked(t, packTree(t, sourceFiles))
	target := t.TempDir()
	if err := runUnpack(reader, &unpackParams{Output: target}, nil, io.Discard, discardLogger()); err != nil {
		t.Fatalf("runUnpack failed: %v", err)
	}
	for name, want := range sourceFiles {
		data, err := os.ReadFile(filepath.Join(target, filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("ReadFile(%s) failed: %v", name, err)
		}
		if !bytes.Equal(data, want) {
			t.Errorf("%s content differs", name)
		}
	}
}

func TestExport(t *testing.T) {
	reader := openPacked(t, packTree(t, sourceFiles))

	var output bytes.Buffer
	if err := runExport(reader, &exportParams{}, config.Default(), []string{"sub/b.bin", "a.txt"}, &output, discardLogger()); err != nil {
		t.Fatalf("runExport failed: %v", err)
	}
	tarReader := tar.NewReader(&output)
	var names []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar Next failed: %v", err)
		}
		names = append(names, header.Name)
	}
	if !slices.Equal(names, []string{"sub/b.bin", "a.txt"}) {
		t.Errorf("tar names = %v", names)
	}

	err := runExport(reader, &exportParams{Compression: "gzip"}, config.Default(), nil, io.Discard, discardLogger())
	if err == nil {
		t.Error("runExport with gzip succeeded, want error")
	}
}

func TestManifestShowAndDiff(t *testing.T) {
	before := packTree(t, sourceFiles)

	var output bytes.Buffer
	params := &manifestShowParams{Format: "json", Fingerprints: true}
	if err := runManifestShow(openPacked(t, before), params, &output); err != nil {
		t.Fatalf("runManifestShow failed: %v", err)
	}
	savedPath := filepath.Join(t.TempDir(), "before.manifest")
	if err := os.WriteFile(savedPath, output.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	saved, err := manifest.Decode(output.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(saved.Entries) != 3 || saved.Entries[0].Fingerprint == nil {
		t.Errorf("saved manifest = %+v", saved)
	}

	changed := map[string][]byte{
		"a.txt":   sourceFiles["a.txt"],
		"empty":   []byte("no longer empty"),
		"new.txt": []byte("new"),
	}
	after := packTree(t, changed)

	output.Reset()
	err = runManifestDiff(savedPath, after, false, &output, discardLogger())
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("runManifestDiff error = %v, want an exit error", err)
	}
	want := "modified empty\nadded    new.txt\nremoved  sub/b.bin\n"
	if output.String() != want {
		t.Errorf("diff output = %q, want %q", output.String(), want)
	}

	output.Reset()
	if err := runManifestDiff(before, savedPath, true, &output, discardLogger()); err != nil {
		t.Fatalf("runManifestDiff of identical snapshots failed: %v", err)
	}
	if strings.TrimSpace(output.String()) != "[]" {
		t.Errorf("JSON diff = %q, want []", output.String())
	}
}

func TestManifestShowFormats(t *testing.T) {
	reader := openPacked(t, packTree(t, sourceFiles))

	var output bytes.Buffer
	if err := runManifestShow(reader, &manifestShowParams{Format: "cbor"}, &output); err != nil {
		t.Fatalf("runManifestShow cbor failed: %v", err)
	}
	decoded, err := manifest.Decode(output.Bytes())
	if err != nil {
		t.Fatalf("Decode(cbor) failed: %v", err)
	}
	if decoded.Volumes != 1 {
		t.Errorf("Volumes = %d, want 1", decoded.Volumes)
	}

	output.Reset()
	if err := runManifestShow(reader, &manifestShowParams{Format: "diag"}, &output); err != nil {
		t.Fatalf("runManifestShow diag failed: %v", err)
	}
	if !strings.Contains(output.String(), `"entries"`) {
		t.Errorf("diag output missing entries key: %s", output.String())
	}

	if err := runManifestShow(reader, &manifestShowParams{Format: "yaml"}, io.Discard); err == nil {
		t.Error("runManifestShow yaml succeeded, want error")
	}
}

func TestMountOptions(t *testing.T) {
	cfg := config.Default()
	params := &mountParams{}
	if _, err := params.mountOptions(cfg, nil); err == nil {
		t.Error("mountOptions without a mountpoint succeeded, want error")
	}

	cfg.Mount.Mountpoint = "/mnt/configured"
	cfg.Mount.AllowOther = true
	options, err := params.mountOptions(cfg, nil)
	if err != nil {
		t.Fatalf("mountOptions failed: %v", err)
	}
	if options.Mountpoint != "/mnt/configured" || !options.AllowOther {
		t.Errorf("options = %+v", options)
	}

	options, err = params.mountOptions(cfg, []string{"/mnt/explicit"})
	if err != nil {
		t.Fatalf("mountOptions failed: %v", err)
	}
	if options.Mountpoint != "/mnt/explicit" {
		t.Errorf("Mountpoint = %q, want /mnt/explicit", options.Mountpoint)
	}
}
