// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the nekodata tool.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in
// cmd/nekodata/commands and dispatched via [Command.Execute], which
// handles flag parsing, subcommand routing, and help output.
//
// Flags are declared as tagged struct fields and bound with
// [FlagsFromParams]. When a user types an unknown subcommand or flag,
// the framework suggests the closest known name by Levenshtein
// distance (threshold: distance <= 3).
package cli
