// Package version reports build metadata stamped via -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders "songscout VERSION (commit=..., date=..., go=...)". Unstamped dev
// builds fall back to the VCS revision embedded by the Go toolchain.
func String() string {
	commit := Commit
	if commit == "none" {
		if revision := vcsRevision(); revision != "" {
			commit = revision
		}
	}
	return fmt.Sprintf("songscout %s (commit=%s, date=%s, go=%s)", Version, commit, Date, runtime.Version())
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 12 {
			return setting.Value[:12]
		}
	}
	return ""
}
