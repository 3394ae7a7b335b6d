// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/manifest"
	"github.com/pixelneko/nekofs/lib/nekodata"
)

type listParams struct {
	configParams
	cli.JSONOutput
	Long bool `flag:"long,l" desc:"show stored size, block count and digest"`
}

func listCommand() *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List the entries of an archive",
		Description: `Print the entries of an archive in directory order.

Sizes are the decoded sizes. With --long the stored (compressed) size,
block count and SHA-256 digest of the stored bytes are shown too.
Entries marked "opaque" are nested archives or raw blobs stored
without block compression.`,
		Usage: "nekodata list [flags] <archive>",
		Examples: []cli.Example{
			{
				Description: "List entries with details",
				Command:     "nekodata list -l game.nekodata",
			},
			{
				Description: "List entries as JSON",
				Command:     "nekodata list --json game.nekodata",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "nekodata list [flags] <archive>"); err != nil {
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
			return runList(reader, &params, os.Stdout)
		},
	}
}

func runList(reader *nekodata.Reader, params *listParams, w io.Writer) error {
	snapshot, err := manifest.Build(reader, manifest.Options{})
	if err != nil {
		return err
	}
	if params.OutputJSON {
		return cli.WriteJSON(w, snapshot.Entries)
	}

	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if params.Long {
		fmt.Fprintln(table, "NAME\tSIZE\tSTORED\tBLOCKS\tDIGEST")
	} else {
		fmt.Fprintln(table, "NAME\tSIZE")
	}
	for _, entry := range snapshot.Entries {
		size := humanize.IBytes(uint64(entry.Size))
		if !params.Long {
			fmt.Fprintf(table, "%s\t%s\n", entry.Name, size)
			continue
		}
		blocks := fmt.Sprint(entry.Blocks)
		if entry.Opaque {
			blocks = "opaque"
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\n",
			entry.Name, size, humanize.IBytes(uint64(entry.StoredSize)), blocks, entry.Digest)
	}
	return table.Flush()
}
