// Package buildinfo exposes build metadata injected at link time.
package buildinfo

var (
	// Version is the semantic version, set via -ldflags.
	Version = "dev"
	// Commit is the VCS revision the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)
