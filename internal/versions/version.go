// Package versions provides build version information for the binary.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Version info set via ldflags at build time.
var (
	// Version is the current version of racewatch
	Version = "dev"
	// Commit is the git commit hash of the build
	Commit = "unknown"
	// BuildDate is the date the binary was built
	BuildDate = "unknown"
)

// VersionInfo represents the version information of the binary
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version information, filling in what ldflags
// did not provide from the embedded build info.
func GetVersionInfo() VersionInfo {
	if info, ok := debug.ReadBuildInfo(); ok {
		if Commit == "unknown" {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					Commit = setting.Value
				}
			}
		}
		if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			Version = info.Main.Version
		}
	}
	if BuildDate == "unknown" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}

	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
