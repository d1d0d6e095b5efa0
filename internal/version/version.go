// Package version provides build and version information for scand.
package version

// Version is the current release version of scand.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/relogix/scand/internal/version.Version=x.y.z"
var Version = "0.3.0"
