// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the nekodata
// binary.
//
// Values are injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/pixelneko/nekofs/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When GitCommit is not injected, the VCS stamp recorded by the Go
// toolchain is used instead.
package version
