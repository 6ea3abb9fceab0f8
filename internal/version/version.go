// Package version holds the build version, set with
// -ldflags "-X github.com/hupe1980/neurallink/internal/version.Version=v1.2.3".
package version

// Version is the release version of the binary.
var Version = "dev"
