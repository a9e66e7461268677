// Package buildinfo carries version metadata set with -ldflags at release time.
package buildinfo

import "runtime/debug"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info falls back to the VCS stamp embedded by the Go toolchain when ldflags were not set.
func Info() map[string]string {
	commit, builtAt, goVersion := Commit, BuiltAt, ""
	if bi, ok := debug.ReadBuildInfo(); ok {
		goVersion = bi.GoVersion
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "":
				commit = s.Value
			case s.Key == "vcs.time" && builtAt == "":
				builtAt = s.Value
			}
		}
	}
	return map[string]string{
		"service":   "shiprelay",
		"version":   Version,
		"commit":    commit,
		"builtAt":   builtAt,
		"goVersion": goVersion,
	}
}
