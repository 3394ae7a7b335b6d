// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse exposes an open nekodata archive as a read-only FUSE
// file system. Entry names become paths; every slash-separated prefix
// becomes a directory. Reads decode only the blocks they touch, through
// the archive's shared block caches.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/pixelneko/nekofs/lib/nekodata"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the archive is mounted. It is
	// created if it does not exist.
	Mountpoint string

	// Reader is the archive to serve. It must stay open until the
	// mount is unmounted.
	Reader *nekodata.Reader

	// ExpandNested shows nested archives as directories of their
	// entries instead of as opaque files.
	ExpandNested bool

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Mount is a mounted archive.
type Mount struct {
	server  *fuse.Server
	builder *treeBuilder
}

// Wait blocks until the file system is unmounted.
func (m *Mount) Wait() {
	m.server.Wait()
}

// Unmount unmounts the file system and closes nested archives opened
// for it.
func (m *Mount) Unmount() error {
	err := m.server.Unmount()
	m.builder.close()
	return err
}

// Serve mounts the archive at the configured mountpoint. The caller
// must call Unmount on the returned Mount when done.
func Serve(options Options) (*Mount, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	builder := &treeBuilder{expandNested: options.ExpandNested, logger: options.Logger}
	root := &rootNode{directoryNode{tree: builder.build(options.Reader), logger: options.Logger}}

	// Archives are immutable, so the kernel may cache forever.
	timeout := time.Hour
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			FsName:     "nekodata",
			Name:       "nekodata",
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		builder.close()
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("archive mounted", "mountpoint", options.Mountpoint, "volumes", options.Reader.VolumeCount())
	return &Mount{server: server, builder: builder}, nil
}

// rootNode is the mount root. The whole tree is added at mount time.
type rootNode struct {
	directoryNode
}

var _ gofuse.NodeOnAdder = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	addChildren(ctx, &r.Inode, r.tree, r.logger)
}

func addChildren(ctx context.Context, parent *gofuse.Inode, tree *treeNode, logger *slog.Logger) {
	for _, child := range tree.sortedChildren() {
		if child.isDirectory() {
			inode := parent.NewPersistentInode(ctx, &directoryNode{tree: child, logger: logger},
				gofuse.StableAttr{Mode: syscall.S_IFDIR})
			parent.AddChild(child.name, inode, false)
			addChildren(ctx, inode, child, logger)
			continue
		}
		inode := parent.NewPersistentInode(ctx, &fileNode{tree: child, logger: logger},
			gofuse.StableAttr{Mode: syscall.S_IFREG})
		parent.AddChild(child.name, inode, false)
	}
}

// directoryNode is a directory of the tree.
type directoryNode struct {
	gofuse.Inode
	tree   *treeNode
	logger *slog.Logger
}

var _ gofuse.InodeEmbedder = (*directoryNode)(nil)
var _ gofuse.NodeGetattrer = (*directoryNode)(nil)

func (d *directoryNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	return 0
}

// fileNode is one archive entry.
type fileNode struct {
	gofuse.Inode
	tree   *treeNode
	logger *slog.Logger
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(n.tree.size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = nekodata.BlockSize
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	stream, err := n.tree.reader.OpenDecodedStream(n.tree.entry)
	if err != nil {
		n.logger.Error("open failed", "name", n.tree.entry, "error", err)
		return nil, 0, errno(err)
	}
	// Content is immutable, so the kernel page cache stays valid.
	return &fileHandle{stream: stream, logger: n.logger}, fuse.FOPEN_KEEP_CACHE, 0
}

// fileHandle holds one open decoded stream. Holding it keeps the
// entry's block cache alive between reads.
type fileHandle struct {
	stream *nekodata.FileReader
	logger *slog.Logger
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	read, err := h.stream.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("read failed", "name", h.stream.Name(), "offset", off, "error", err)
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:read]), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.stream.Close(); err != nil {
		return errno(err)
	}
	return 0
}

// errno maps codec errors to the closest errno.
func errno(err error) syscall.Errno {
	switch {
	case errors.Is(err, nekodata.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, nekodata.ErrClosed):
		return syscall.EBADF
	default:
		return syscall.EIO
	}
}
