// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/codec"
	"github.com/pixelneko/nekofs/lib/manifest"
	"github.com/pixelneko/nekofs/lib/nekodata"
)

func manifestCommand() *cli.Command {
	return &cli.Command{
		Name:    "manifest",
		Summary: "Snapshot and compare archive directories",
		Description: `Write a manifest of an archive's directory, or compare two
archives or manifests entry by entry.

A manifest records each entry's size, stored size, block count and
digest. With --fingerprints it also records a BLAKE3 fingerprint of
the decoded content, which lets diff ignore entries that were only
recompressed.`,
		Subcommands: []*cli.Command{
			manifestShowCommand(),
			manifestDiffCommand(),
		},
	}
}

type manifestShowParams struct {
	configParams
	Format       string `flag:"format,f" desc:"output encoding: json, cbor or diag" default:"json"`
	Fingerprints bool   `flag:"fingerprints" desc:"decode every entry and record its content fingerprint"`
	Output       string `flag:"output,o" desc:"file to write (default stdout)"`
}

func manifestShowCommand() *cli.Command {
	var params manifestShowParams

	return &cli.Command{
		Name:    "show",
		Summary: "Write the manifest of an archive",
		Description: `Write the manifest of an archive as JSON, deterministic CBOR, or
CBOR diagnostic notation.`,
		Usage: "nekodata manifest show [flags] <archive>",
		Examples: []cli.Example{
			{
				Description: "Save a CBOR manifest with fingerprints",
				Command:     "nekodata manifest show --fingerprints -f cbor -o v1.manifest game.nekodata",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "nekodata manifest show [flags] <archive>"); err != nil {
				return err
			}
			_, logger, err := params.load()
			if err != nil {
				return err
			}
			reader, err := openArchive(args[0], logger)
			if err != nil {
				return err
			}
			defer reader.Close()

			if params.Output == "" {
				return runManifestShow(reader, &params, os.Stdout)
			}
			file, err := os.Create(params.Output)
			if err != nil {
				return err
			}
			showErr := runManifestShow(reader, &params, file)
			return errors.Join(showErr, file.Close())
		},
	}
}

func runManifestShow(reader *nekodata.Reader, params *manifestShowParams, w io.Writer) error {
	snapshot, err := manifest.Build(reader, manifest.Options{Fingerprints: params.Fingerprints})
	if err != nil {
		return err
	}
	switch params.Format {
	case "json":
		return snapshot.WriteJSON(w)
	case "cbor":
		data, err := snapshot.EncodeCBOR()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "diag":
		data, err := snapshot.EncodeCBOR()
		if err != nil {
			return err
		}
		notation, err := codec.Diagnose(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, notation)
		return err
	default:
		return fmt.Errorf("unknown format %q (want json, cbor or diag)", params.Format)
	}
}

type manifestDiffParams struct {
	configParams
	cli.JSONOutput
}

func manifestDiffCommand() *cli.Command {
	var params manifestDiffParams

	return &cli.Command{
		Name:    "diff",
		Summary: "Compare two archives or manifests",
		Description: `List the entries added, removed or modified between two
snapshots. Each side is an archive (a path ending in .nekodata) or a
manifest file in JSON or CBOR.

Archives are fingerprinted, so entries whose content is unchanged are
not reported even if they were compressed differently. The command
exits with status 1 when there are differences.`,
		Usage: "nekodata manifest diff [flags] <from> <to>",
		Examples: []cli.Example{
			{
				Description: "Compare a saved manifest against a new build",
				Command:     "nekodata manifest diff v1.manifest game.nekodata",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("diff", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 2, 2, "nekodata manifest diff [flags] <from> <to>"); err != nil {
				return err
			}
			_, logger, err := params.load()
			if err != nil {
				return err
			}
			return runManifestDiff(args[0], args[1], params.OutputJSON, os.Stdout, logger)
		},
	}
}

func runManifestDiff(fromPath, toPath string, asJSON bool, w io.Writer, logger *slog.Logger) error {
	from, err := loadSnapshot(fromPath, logger)
	if err != nil {
		return err
	}
	to, err := loadSnapshot(toPath, logger)
	if err != nil {
		return err
	}
	changes := manifest.Diff(from, to)
	if asJSON {
		if changes == nil {
			changes = []manifest.Change{}
		}
		if err := cli.WriteJSON(w, changes); err != nil {
			return err
		}
	} else {
		for _, change := range changes {
			fmt.Fprintf(w, "%-8s %s\n", change.Kind, change.Name)
		}
	}
	if len(changes) > 0 {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

// loadSnapshot builds a fingerprinted manifest from an archive or
// decodes a saved manifest file.
func loadSnapshot(path string, logger *slog.Logger) (*manifest.Manifest, error) {
	if strings.HasSuffix(path, nekodata.Extension) {
		reader, err := openArchive(path, logger)
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return manifest.Build(reader, manifest.Options{Fingerprints: true})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	snapshot, err := manifest.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snapshot, nil
}
