// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/config"
	"github.com/pixelneko/nekofs/lib/nekodata"
	"github.com/pixelneko/nekofs/lib/packlist"
	"github.com/pixelneko/nekofs/lib/vfs"
)

type packParams struct {
	configParams
	List       string       `flag:"list,l" desc:"pack list (JSONC) describing the archive contents"`
	Dir        string       `flag:"dir,d" desc:"pack every file under this directory"`
	VolumeSize cli.ByteSize `flag:"volume-size" desc:"volume size, a multiple of 1MiB (default from config)"`
	Workers    int          `flag:"workers,w" desc:"compression goroutines (default from config)"`
	QueueDepth int          `flag:"queue-depth" desc:"blocks in flight between reader and writer (default 3 per worker)"`
	Level      int          `flag:"level" desc:"LZ4-HC compression level, 1..9 (default from config)"`
	Verify     bool         `flag:"verify" desc:"re-read the archive and check every digest after writing"`
}

func packCommand() *cli.Command {
	var params packParams

	return &cli.Command{
		Name:    "pack",
		Summary: "Create an archive from a pack list or a directory",
		Description: `Compress files into a nekodata volume set.

The contents come from a pack list (--list), a JSONC document naming
files, directories, nested archives and entries copied from other
archives, or from every file under a directory (--dir).

Volume size, worker count and compression level default to the
configuration file and can be overridden per run. Interrupting the
command cancels the write and removes the volumes it had created.`,
		Usage: "nekodata pack [flags] <archive>",
		Examples: []cli.Example{
			{
				Description: "Pack a directory into 64 MiB volumes",
				Command:     "nekodata pack --dir assets --volume-size 64MiB game.nekodata",
			},
			{
				Description: "Pack from a list and verify the result",
				Command:     "nekodata pack --list release.jsonc --verify game.nekodata",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("pack", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "nekodata pack [flags] <archive>"); err != nil {
				return err
			}
			cfg, logger, err := params.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPack(ctx, &params, cfg, args[0], os.Stdout, logger)
		},
	}
}

// encoderOptions merges the configuration with flags set on the
// command line.
func (p *packParams) encoderOptions(cfg *config.Config, logger *slog.Logger) (nekodata.EncoderOptions, error) {
	options, err := cfg.EncoderOptions()
	if err != nil {
		return options, err
	}
	if p.VolumeSize != 0 {
		options.VolumeSize = int64(p.VolumeSize)
	}
	if p.Workers != 0 {
		options.Workers = p.Workers
	}
	if p.QueueDepth != 0 {
		options.QueueDepth = p.QueueDepth
	}
	if p.Level != 0 {
		options.CompressionLevel = p.Level
	}
	options.Logger = logger
	options.Progress = func(progress nekodata.Progress) {
		logger.Info("packed entry",
			"entry", progress.Name,
			"index", progress.Index,
			"total", progress.Total,
			"size", humanize.IBytes(uint64(progress.OriginalSize)),
			"stored", humanize.IBytes(uint64(progress.StoredSize)),
		)
	}
	return options, nil
}

// packSource resolves the list to pack and the file system its paths
// are relative to.
func (p *packParams) packSource() (*packlist.List, vfs.FileSystem, error) {
	switch {
	case p.List != "" && p.Dir != "":
		return nil, nil, errors.New("--list and --dir are mutually exclusive")
	case p.List != "":
		list, err := packlist.ReadFile(p.List)
		if err != nil {
			return nil, nil, err
		}
		return list, vfs.NewOS(list.Root), nil
	case p.Dir != "":
		fileSystem := vfs.NewOS(p.Dir)
		list, err := packlist.FromDirectory(fileSystem)
		if err != nil {
			return nil, nil, fmt.Errorf("listing %s: %w", p.Dir, err)
		}
		return list, fileSystem, nil
	default:
		return nil, nil, errors.New("one of --list or --dir is required")
	}
}

func runPack(ctx context.Context, params *packParams, cfg *config.Config, archivePath string, w io.Writer, logger *slog.Logger) error {
	list, fileSystem, err := params.packSource()
	if err != nil {
		return err
	}
	if err := list.Validate(); err != nil {
		return fmt.Errorf("invalid pack list: %w", err)
	}
	options, err := params.encoderOptions(cfg, logger)
	if err != nil {
		return err
	}

	archivePath = nekodata.ArchivePath(archivePath)
	sink := &trackingSink{
		VolumeSink: nekodata.NewFileSystemSink(vfs.NewOS(""), archivePath),
		first:      archivePath,
	}
	encoder, err := nekodata.NewEncoder(sink, options)
	if err != nil {
		return err
	}
	sources, err := list.Apply(encoder, fileSystem)
	if err != nil {
		return err
	}
	archiveErr := encoder.Archive(ctx)
	if archiveErr != nil {
		if err := sink.removeCreated(); err != nil {
			logger.Warn("removing partial volumes", "archive", archivePath, "error", err)
		}
	}
	if err := errors.Join(archiveErr, sources.Close()); err != nil {
		return fmt.Errorf("writing %s: %w", archivePath, err)
	}

	reader, err := openArchive(archivePath, logger)
	if err != nil {
		return err
	}
	defer reader.Close()
	if params.Verify {
		if err := reader.Verify(); err != nil {
			return fmt.Errorf("verifying %s: %w", archivePath, err)
		}
	}
	fmt.Fprintf(w, "%s: %d entries, %d volumes, %s payload\n",
		archivePath, len(reader.Entries()), reader.VolumeCount(),
		humanize.IBytes(uint64(reader.PayloadSize())))
	return nil
}

// trackingSink records how many volumes it created so a failed write
// can remove them.
type trackingSink struct {
	nekodata.VolumeSink
	first   string
	created int
}

func (s *trackingSink) CreateVolume(index int) (nekodata.VolumeFile, error) {
	file, err := s.VolumeSink.CreateVolume(index)
	if err != nil {
		return nil, err
	}
	s.created = max(s.created, index+1)
	return file, nil
}

// removeCreated deletes every volume the sink created.
func (s *trackingSink) removeCreated() error {
	var errs []error
	for index := range s.created {
		err := os.Remove(nekodata.VolumePath(s.first, index))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.created = 0
	return errors.Join(errs...)
}
