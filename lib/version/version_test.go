// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func TestBuildInfo(t *testing.T) {
	build := Build{Version: "1.2.0", Commit: "abc1234", Dirty: true, BuildTime: "2026-10-01T00:00:00Z"}
	if got, want := build.Info(), "1.2.0 (abc1234-dirty, 2026-10-01T00:00:00Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	build.Dirty = false
	if got := build.Info(); strings.Contains(got, "dirty") {
		t.Errorf("Info() = %q, want no dirty marker", got)
	}
}

func TestFromBuildInfo(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2026-09-30T12:00:00Z"},
	}

	build := Build{Commit: "unknown", BuildTime: "unknown"}
	fromBuildInfo(&build, settings)
	if build.Commit != "0123456789ab" || !build.Dirty || build.BuildTime != "2026-09-30T12:00:00Z" {
		t.Errorf("build = %+v", build)
	}

	injected := Build{Commit: "feedbee", BuildTime: "unknown"}
	fromBuildInfo(&injected, settings)
	if injected.Commit != "feedbee" || injected.Dirty {
		t.Errorf("injected commit was overridden: %+v", injected)
	}
}

func TestFull(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Version+" (") {
		t.Errorf("Full() = %q, want it to start with the version", full)
	}
	if !strings.Contains(full, runtime.Version()) || !strings.Contains(full, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("Full() = %q, want Go version and platform", full)
	}
}
