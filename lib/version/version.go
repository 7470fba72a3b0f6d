// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which build of relic is running.
//
// Release builds inject the fields through -ldflags:
//
//	go build -ldflags "-X github.com/relic-foundation/relic/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// A binary built without them (go install, go run) falls back to the
// VCS stamp the toolchain embeds, so --version is never entirely blind
// to where the binary came from.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set through -ldflags; see the package comment.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns the single-line form printed by relic --version.
func Info() string {
	commit, dirty := buildStamp()
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, BuildTime)
}

// Full returns the multi-line form with toolchain and platform, for
// bug reports.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// buildStamp resolves the commit and dirty flag, preferring the
// ldflags values and falling back to the embedded VCS stamp.
func buildStamp() (commit string, dirty bool) {
	commit = GitCommit
	dirty = GitDirty == "true"
	if commit != "unknown" {
		return commit, dirty
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, dirty
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if len(setting.Value) >= 7 {
				commit = setting.Value[:7]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return commit, dirty
}
