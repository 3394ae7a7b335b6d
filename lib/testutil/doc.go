// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers: bounded waits that
// fail a test instead of hanging it, and deterministic content
// generators for archive round trips.
package testutil
