// Package version exposes build identification set via ldflags.
package version

// Version is the release version, "dev" for local builds.
var Version = "dev"

// Commit is the git commit hash the binary was built from.
var Commit = "unknown"

// Date is the build timestamp.
var Date = "unknown"
