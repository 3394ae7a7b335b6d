// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !darwin && !linux

package vfs

func openMapped(path string) (ReadStream, error) {
	return openFile(path)
}
