// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the nekodata
// command-line tool.
//
// Configuration is loaded from a single file named by either the
// NEKODATA_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. Without either,
// commands run on [Default].
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No environment
// variable overrides a config value directly.
//
// Key exports:
//
//   - [Config] -- master struct with Archive, Log, Export, Mount
//   - [Default] -- returns a Config matching the codec defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
