// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the nekodata CLI command tree.
//
// Each command pairs a [cli.Command] that parses flags with a plain
// function that takes its inputs and an io.Writer for output.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/config"
	"github.com/pixelneko/nekofs/lib/nekodata"
	"github.com/pixelneko/nekofs/lib/version"
)

// Root builds and returns the complete nekodata CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "nekodata",
		Description: `nekodata: multi-volume LZ4 archives.

Pack files into .nekodata volume sets, list and verify them, and read
their contents back out as files, tar streams, or a FUSE mount.

Configuration is read from the file given with --config, then from
NEKODATA_CONFIG, then built-in defaults.`,
		Subcommands: []*cli.Command{
			packCommand(),
			listCommand(),
			verifyCommand(),
			catCommand(),
			unpackCommand(),
			exportCommand(),
			manifestCommand(),
			mountCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					if len(args) > 0 {
						return fmt.Errorf("unexpected argument: %s", args[0])
					}
					fmt.Printf("nekodata %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// configParams is embedded by every command that reads configuration.
type configParams struct {
	ConfigPath string `flag:"config" desc:"path to nekodata.yaml (default: $NEKODATA_CONFIG)"`
}

// load resolves and validates the configuration and builds the
// command logger at its level.
func (p *configParams) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Resolve(p.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cli.NewCommandLogger(cfg.LogLevel()), nil
}

// openArchive opens the volume set whose first volume is path.
func openArchive(path string, logger *slog.Logger) (*nekodata.Reader, error) {
	reader, err := nekodata.Open(path, nekodata.ReaderOptions{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return reader, nil
}

// requireArgs checks the positional argument count.
func requireArgs(args []string, minimum, maximum int, usage string) error {
	if len(args) < minimum {
		return fmt.Errorf("usage: %s", usage)
	}
	if maximum >= 0 && len(args) > maximum {
		return fmt.Errorf("unexpected argument: %s\n\nusage: %s", args[maximum], usage)
	}
	return nil
}
