// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pixelneko/nekofs/lib/nekodata"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nekodata.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	options, err := cfg.EncoderOptions()
	if err != nil {
		t.Fatalf("EncoderOptions failed: %v", err)
	}
	if options.VolumeSize != nekodata.DefaultVolumeSize {
		t.Errorf("VolumeSize = %d, want %d", options.VolumeSize, int64(nekodata.DefaultVolumeSize))
	}
	if options.Workers != nekodata.DefaultWorkers || options.CompressionLevel != nekodata.DefaultCompressionLevel {
		t.Errorf("options = %+v", options)
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want INFO", cfg.LogLevel())
	}
}

func TestLoad_RequiresEnvVar(t *testing.T) {
	t.Setenv(EnvVar, "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when NEKODATA_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "NEKODATA_CONFIG environment variable not set") {
		t.Errorf("error = %q", err)
	}
}

func TestLoad_WithEnvVar(t *testing.T) {
	t.Setenv(EnvVar, writeConfig(t, "archive:\n  workers: 3\n"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Archive.Workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.Archive.Workers)
	}
	// Unset keys keep their defaults.
	if cfg.Archive.CompressionLevel != nekodata.DefaultCompressionLevel {
		t.Errorf("compression_level = %d, want default", cfg.Archive.CompressionLevel)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("NEKO_MOUNTS", "/mnt/neko")
	path := writeConfig(t, `
archive:
  volume_size: 64MiB
  workers: 4
  queue_depth: 10
  compression_level: 3
log:
  level: debug
export:
  compression: zstd
mount:
  mountpoint: ${NEKO_MOUNTS}/game
  allow_other: true
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	options, err := cfg.EncoderOptions()
	if err != nil {
		t.Fatalf("EncoderOptions failed: %v", err)
	}
	if options.VolumeSize != 64<<20 || options.Workers != 4 || options.QueueDepth != 10 || options.CompressionLevel != 3 {
		t.Errorf("options = %+v", options)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel())
	}
	if cfg.Export.Compression != "zstd" {
		t.Errorf("export.compression = %q", cfg.Export.Compression)
	}
	if cfg.Mount.Mountpoint != "/mnt/neko/game" || !cfg.Mount.AllowOther {
		t.Errorf("mount = %+v", cfg.Mount)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadFile(missing) = %v, want os.ErrNotExist", err)
	}
	if _, err := LoadFile(writeConfig(t, "archive: [not, a, map]")); err == nil {
		t.Error("LoadFile(malformed) succeeded, want error")
	}
}

func TestValidate_ReportsEveryError(t *testing.T) {
	cfg := Default()
	cfg.Archive.VolumeSize = "1500KiB"
	cfg.Archive.Workers = -1
	cfg.Archive.CompressionLevel = 12
	cfg.Log.Level = "loud"
	cfg.Export.Compression = "gzip"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() succeeded, want errors")
	}
	for _, want := range []string{"archive.volume_size", "archive.workers", "archive.compression_level", "log.level", "export.compression"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q: %v", want, err)
		}
	}
	if _, err := cfg.EncoderOptions(); err == nil {
		t.Error("EncoderOptions accepted a volume size that is not a MiB multiple")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("NEKO_TEST_SET", "value")
	tests := []struct {
		input string
		want  string
	}{
		{"${HOME}/x", "/home/neko/x"},
		{"${NEKO_TEST_SET}", "value"},
		{"${NEKO_TEST_UNSET:-fallback}", "fallback"},
		{"plain", "plain"},
	}
	vars := map[string]string{"HOME": "/home/neko"}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve(\"\") failed: %v", err)
	}
	if cfg.Archive.Workers != nekodata.DefaultWorkers {
		t.Errorf("Resolve without a file did not return defaults")
	}

	path := writeConfig(t, "log:\n  level: warn\n")
	cfg, err = Resolve(path)
	if err != nil {
		t.Fatalf("Resolve(path) failed: %v", err)
	}
	if cfg.LogLevel() != slog.LevelWarn {
		t.Errorf("LogLevel = %v, want WARN", cfg.LogLevel())
	}
}
