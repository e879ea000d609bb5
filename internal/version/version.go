// Package version contains build version information.
package version

import "fmt"

// Version is the current application version.
// This value is updated automatically by Release Please.
var Version = "0.0.0"

// GitCommit is the git commit hash.
// This value is set at build time via ldflags.
var GitCommit = "unknown"

// BuildDate is the build date.
// This value is set at build time via ldflags.
var BuildDate = "unknown"

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("bagwatch %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}

// Map returns build information keyed for JSON output.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
	}
}
