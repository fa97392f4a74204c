// Package version holds livedoc build metadata injected via ldflags:
//
//	go build -ldflags "-X github.com/kailas-cloud/livedoc/internal/version.Version=v0.3.0"
package version

import "fmt"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build metadata for logs and the health endpoint.
func String() string {
	return fmt.Sprintf("livedoc %s (commit %s, built %s)", Version, Commit, Date)
}
