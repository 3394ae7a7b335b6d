// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/pixelneko/nekofs/lib/nekodata"
)

// EnvVar names the environment variable read by [Load].
const EnvVar = "NEKODATA_CONFIG"

// Config is the master configuration for the nekodata tool.
type Config struct {
	// Archive configures the encoder used by "nekodata pack".
	Archive ArchiveConfig `yaml:"archive"`

	// Log configures the command logger.
	Log LogConfig `yaml:"log"`

	// Export configures "nekodata export".
	Export ExportConfig `yaml:"export"`

	// Mount configures "nekodata mount".
	Mount MountConfig `yaml:"mount"`
}

// ArchiveConfig configures archive creation.
type ArchiveConfig struct {
	// VolumeSize is the size of each volume, in human form ("2GiB",
	// "64 MiB"). Must be a positive multiple of one MiB.
	VolumeSize string `yaml:"volume_size"`

	// Workers is the number of compression goroutines.
	Workers int `yaml:"workers"`

	// QueueDepth bounds the blocks in flight. Zero means three per worker.
	QueueDepth int `yaml:"queue_depth"`

	// CompressionLevel is the LZ4-HC level, 1..9.
	CompressionLevel int `yaml:"compression_level"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// ExportConfig configures tar export.
type ExportConfig struct {
	// Compression is "none", "zstd" or "lz4".
	Compression string `yaml:"compression"`
}

// MountConfig configures FUSE mounts.
type MountConfig struct {
	// Mountpoint is used when the mount command is given none.
	Mountpoint string `yaml:"mountpoint"`

	// AllowOther lets users other than the mounting user read the mount.
	AllowOther bool `yaml:"allow_other"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Archive: ArchiveConfig{
			VolumeSize:       humanize.IBytes(nekodata.DefaultVolumeSize),
			Workers:          nekodata.DefaultWorkers,
			CompressionLevel: nekodata.DefaultCompressionLevel,
		},
		Log:    LogConfig{Level: "info"},
		Export: ExportConfig{Compression: "none"},
	}
}

// Load loads configuration from the file named by NEKODATA_CONFIG.
// It fails if the variable is not set; callers that can run without a
// file use [Default] instead.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your nekodata.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, on top of
// [Default].
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// Resolve picks the configuration for a command: an explicit path wins,
// then NEKODATA_CONFIG, then [Default].
func Resolve(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv(EnvVar) != "" {
		return Load()
	}
	return Default(), nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Mount.Mountpoint = expandVars(c.Mount.Mountpoint, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	logLevels          = []string{"debug", "info", "warn", "error"}
	exportCompressions = []string{"none", "zstd", "lz4"}
)

// Validate checks the configuration for errors and reports all of them.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Archive.volumeSize(); err != nil {
		errs = append(errs, err)
	}
	if c.Archive.Workers < 0 {
		errs = append(errs, fmt.Errorf("archive.workers must not be negative, got %d", c.Archive.Workers))
	}
	if c.Archive.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("archive.queue_depth must not be negative, got %d", c.Archive.QueueDepth))
	}
	if c.Archive.CompressionLevel != 0 && (c.Archive.CompressionLevel < 1 || c.Archive.CompressionLevel > 9) {
		errs = append(errs, fmt.Errorf("archive.compression_level must be 1..9, got %d", c.Archive.CompressionLevel))
	}
	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}
	if !slices.Contains(exportCompressions, c.Export.Compression) {
		errs = append(errs, fmt.Errorf("export.compression must be one of: %v", exportCompressions))
	}

	return errors.Join(errs...)
}

func (a ArchiveConfig) volumeSize() (int64, error) {
	if a.VolumeSize == "" {
		return nekodata.DefaultVolumeSize, nil
	}
	parsed, err := humanize.ParseBytes(a.VolumeSize)
	if err != nil {
		return 0, fmt.Errorf("archive.volume_size: %w", err)
	}
	if parsed == 0 || parsed%nekodata.VolumeUnit != 0 || parsed > uint64(nekodata.MaxVolumeSize) {
		return 0, fmt.Errorf("archive.volume_size %s is not a positive multiple of 1 MiB", a.VolumeSize)
	}
	return int64(parsed), nil
}

// EncoderOptions converts the archive section to encoder options. The
// caller adds a logger and progress callback.
func (c *Config) EncoderOptions() (nekodata.EncoderOptions, error) {
	volumeSize, err := c.Archive.volumeSize()
	if err != nil {
		return nekodata.EncoderOptions{}, err
	}
	return nekodata.EncoderOptions{
		VolumeSize:       volumeSize,
		Workers:          c.Archive.Workers,
		QueueDepth:       c.Archive.QueueDepth,
		CompressionLevel: c.Archive.CompressionLevel,
	}, nil
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
