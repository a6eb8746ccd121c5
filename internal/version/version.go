// Package version exposes build identification injected at link time,
// e.g. -ldflags "-X .../internal/version.Version=v0.3.0".
package version

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA identifies the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String formats the build identification as one line.
func String() string {
	return fmt.Sprintf("skywatch %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
