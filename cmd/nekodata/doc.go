// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Nekodata creates, inspects and reads nekodata archives: LZ4-HC
// compressed, multi-volume containers with a SHA-256 digest per entry.
//
// Usage:
//
//	nekodata pack --dir assets game.nekodata
//	nekodata list -l game.nekodata
//	nekodata verify game.nekodata
//	nekodata cat game.nekodata config.json
//	nekodata unpack -o out game.nekodata
//	nekodata export --compression zstd -o game.tar.zst game.nekodata
//	nekodata manifest diff old.nekodata game.nekodata
//	nekodata mount game.nekodata /mnt/game
//
// Run "nekodata <command> --help" for the flags of each command.
package main
