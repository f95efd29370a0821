// Package version reports the build version of robobs.
package version

import "runtime/debug"

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/robobs/internal/version.Version=X.Y.Z
var Version = "0.1.0-dev"

// String returns the version plus the VCS revision when the binary carries one.
func String() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return Version + " (" + setting.Value[:7] + ")"
		}
	}
	return Version
}
