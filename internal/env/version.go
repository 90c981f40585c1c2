package env

import (
	"runtime/debug"
)

// GetBuildVersion returns the version stamped at link time, falling back to
// the VCS revision recorded by the go toolchain for development builds.
func GetBuildVersion() (versionInfo VersionInfo, err error) {
	if BuildVersion == "" {
		BuildVersion = "dev"
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					Commit = setting.Value
				}
			}
		}
	}

	versionInfo.BuildVersion = BuildVersion
	versionInfo.Commit = Commit
	return
}
