// Package version provides build-time version information, set with -ldflags.
package version

import "fmt"

var (
	// Version is the application version (e.g., git tag or "dev")
	Version = "dev"
	// Commit is the git commit hash
	Commit = "dev"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info is the payload served by GET /v1/version.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the build information for the named service.
func Get(service string) Info {
	return Info{Service: service, Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String renders the build information on one line, as printed by the CLI.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}
