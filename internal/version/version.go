// Package version exposes build metadata stamped via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version or "dev" for local builds.
	Version = "dev"
	// Commit is the short git hash the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the full build identifier.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

// UserAgent renders the value sent with outbound requests.
func UserAgent() string {
	return "usagedeck/" + Version
}
