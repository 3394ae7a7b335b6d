// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/config"
	"github.com/pixelneko/nekofs/lib/nekodata/fuse"
)

type mountParams struct {
	configParams
	ExpandNested bool `flag:"expand-nested" desc:"show nested archives as directories"`
	AllowOther   bool `flag:"allow-other" desc:"let other users read the mount (needs user_allow_other in /etc/fuse.conf)"`
}

func mountCommand() *cli.Command {
	var params mountParams

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount an archive read-only with FUSE",
		Description: `Serve the entries of an archive as a read-only file system.

Entry names containing "/" appear as directories. Blocks are decoded
on demand and shared between open files. The command runs until the
file system is unmounted (fusermount -u) or it receives SIGINT or
SIGTERM, which unmount it.

The mountpoint defaults to mount.mountpoint from the configuration.`,
		Usage: "nekodata mount [flags] <archive> [mountpoint]",
		Examples: []cli.Example{
			{
				Description: "Browse an archive with nested archives expanded",
				Command:     "nekodata mount --expand-nested game.nekodata /mnt/game",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("mount", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 2, "nekodata mount [flags] <archive> [mountpoint]"); err != nil {
				return err
			}
			cfg, logger, err := params.load()
			if err != nil {
				return err
			}
			options, err := params.mountOptions(cfg, args[1:])
			if err != nil {
				return err
			}
			reader, err := openArchive(args[0], logger)
			if err != nil {
				return err
			}
			defer reader.Close()

			options.Reader = reader
			options.Logger = logger
			mount, err := fuse.Serve(options)
			if err != nil {
				return err
			}
			logger.Info("archive mounted", "archive", args[0], "mountpoint", options.Mountpoint)

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(signals)
			go func() {
				<-signals
				logger.Info("unmounting", "mountpoint", options.Mountpoint)
				if err := mount.Unmount(); err != nil {
					logger.Error("unmount failed", "error", err)
				}
			}()

			mount.Wait()
			return nil
		},
	}
}

// mountOptions resolves the mountpoint and access flags. An explicit
// argument wins over the configuration.
func (p *mountParams) mountOptions(cfg *config.Config, args []string) (fuse.Options, error) {
	options := fuse.Options{
		Mountpoint:   cfg.Mount.Mountpoint,
		ExpandNested: p.ExpandNested,
		AllowOther:   p.AllowOther || cfg.Mount.AllowOther,
	}
	if len(args) > 0 {
		options.Mountpoint = args[0]
	}
	if options.Mountpoint == "" {
		return options, errors.New("no mountpoint: pass one or set mount.mountpoint in the config")
	}
	return options, nil
}
