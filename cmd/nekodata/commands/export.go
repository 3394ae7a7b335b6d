// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/config"
	"github.com/pixelneko/nekofs/lib/nekodata"
	"github.com/pixelneko/nekofs/lib/nekodata/export"
)

type exportParams struct {
	configParams
	Output      string `flag:"output,o" desc:"file to write (default stdout)"`
	Compression string `flag:"compression" desc:"outer compression: none, zstd or lz4 (default from config)"`
}

func exportCommand() *cli.Command {
	var params exportParams

	return &cli.Command{
		Name:    "export",
		Summary: "Convert an archive to a tar stream",
		Description: `Write the decoded entries of an archive as a tar stream, in
directory order, optionally wrapped in zstd or LZ4 frame compression.

The output is reproducible: every file has mode 0644 and the Unix
epoch as its modification time.`,
		Usage: "nekodata export [flags] <archive> [entry...]",
		Examples: []cli.Example{
			{
				Description: "Export to a zstd-compressed tarball",
				Command:     "nekodata export --compression zstd -o game.tar.zst game.nekodata",
			},
			{
				Description: "Stream a tar to another tool",
				Command:     "nekodata export game.nekodata | tar -t",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("export", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, -1, "nekodata export [flags] <archive> [entry...]"); err != nil {
				return err
			}
			cfg, logger, err := params.load()
			if err != nil {
				return err
			}
			reader, err := openArchive(args[0], logger)
			if err != nil {
				return err
			}
			defer reader.Close()

			if params.Output == "" {
				return runExport(reader, &params, cfg, args[1:], os.Stdout, logger)
			}
			file, err := os.Create(params.Output)
			if err != nil {
				return err
			}
			exportErr := runExport(reader, &params, cfg, args[1:], file, logger)
			return errors.Join(exportErr, file.Close())
		},
	}
}

func runExport(reader *nekodata.Reader, params *exportParams, cfg *config.Config, names []string, w io.Writer, logger *slog.Logger) error {
	name := params.Compression
	if name == "" {
		name = cfg.Export.Compression
	}
	compression, err := export.ParseCompression(name)
	if err != nil {
		return err
	}
	if err := export.WriteTar(w, reader, export.Options{
		Compression: compression,
		Names:       names,
		Logger:      logger,
	}); err != nil {
		return fmt.Errorf("exporting: %w", err)
	}
	return nil
}
