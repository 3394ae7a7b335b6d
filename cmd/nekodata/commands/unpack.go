// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/nekodata"
	"github.com/pixelneko/nekofs/lib/nekodata/export"
	"github.com/pixelneko/nekofs/lib/vfs"
)

type unpackParams struct {
	configParams
	Output   string `flag:"output,o" desc:"directory to write into" default:"."`
	NoVerify bool   `flag:"no-verify" desc:"skip digest verification before extracting"`
}

func unpackCommand() *cli.Command {
	var params unpackParams

	return &cli.Command{
		Name:    "unpack",
		Summary: "Extract entries into a directory",
		Description: `Decode entries and write them as files under the output
directory, creating subdirectories as needed.

The stored digests of the selected entries are verified first; nothing
is written if any of them fails. Names that would resolve outside the
output directory are refused.`,
		Usage: "nekodata unpack [flags] <archive> [entry...]",
		Examples: []cli.Example{
			{
				Description: "Extract everything into ./out",
				Command:     "nekodata unpack -o out game.nekodata",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("unpack", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, -1, "nekodata unpack [flags] <archive> [entry...]"); err != nil {
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
			return runUnpack(reader, &params, args[1:], os.Stdout, logger)
		},
	}
}

func runUnpack(reader *nekodata.Reader, params *unpackParams, names []string, w io.Writer, logger *slog.Logger) error {
	if !params.NoVerify {
		if err := reader.Verify(names...); err != nil {
			return err
		}
	}
	target := vfs.NewOS(params.Output)
	if err := export.Extract(target, reader, export.Options{Names: names, Logger: logger}); err != nil {
		return err
	}
	count := len(names)
	if count == 0 {
		count = len(reader.Entries())
	}
	fmt.Fprintf(w, "extracted %d entries to %s\n", count, params.Output)
	return nil
}
