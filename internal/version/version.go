// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/winrate/internal/version.Version=v0.3.0" ./cmd/winrate
package version

import "fmt"

var (
	// Version is the release tag
	Version = "dev"
	// GitSHA is the commit the binary was built from
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the metadata on one line for the version command and run
// parameters.
func String() string {
	return fmt.Sprintf("winrate %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
