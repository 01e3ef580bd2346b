// Package version reports the build identity used in health responses and
// startup logs.
package version

import "runtime/debug"

// commitOverride is set via -ldflags for container builds without .git.
var commitOverride string

var full = "parley/" + resolveCommit()

// Full returns "parley/<commit>", with a "-dirty" suffix for builds from a
// modified working tree, or "parley/dev" when no build info is available.
func Full() string { return full }

func resolveCommit() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	commit, dirty := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = shorten(s.Value)
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "" {
		return "dev"
	}
	if dirty {
		return commit + "-dirty"
	}
	return commit
}

func shorten(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
