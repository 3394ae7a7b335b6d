// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/nekodata"
)

type catParams struct {
	configParams
	Raw bool `flag:"raw" desc:"write the stored (compressed) bytes instead of the decoded content"`
}

func catCommand() *cli.Command {
	var params catParams

	return &cli.Command{
		Name:    "cat",
		Summary: "Write the contents of entries to stdout",
		Description: `Decode the named entries and write them to stdout, in order.

With --raw the stored bytes are written as they appear in the
archive: concatenated LZ4 blocks for compressed entries, the verbatim
bytes for opaque ones.`,
		Usage: "nekodata cat [flags] <archive> <entry...>",
		Examples: []cli.Example{
			{
				Description: "Print a configuration file from an archive",
				Command:     "nekodata cat game.nekodata config.json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("cat", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 2, -1, "nekodata cat [flags] <archive> <entry...>"); err != nil {
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
			return runCat(reader, args[1:], params.Raw, os.Stdout)
		},
	}
}

func runCat(reader *nekodata.Reader, names []string, raw bool, w io.Writer) error {
	for _, name := range names {
		if err := catEntry(reader, name, raw, w); err != nil {
			return err
		}
	}
	return nil
}

func catEntry(reader *nekodata.Reader, name string, raw bool, w io.Writer) error {
	if raw {
		section, err := reader.OpenRawStream(name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, section); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		return nil
	}
	stream, err := reader.OpenDecodedStream(name)
	if err != nil {
		return err
	}
	defer stream.Close()
	if _, err := io.Copy(w, stream); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
