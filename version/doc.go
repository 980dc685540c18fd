// Package version provides version information and build metadata for svodfs.
//
// Version Information Sources:
//   - Compile-time variables (Version, Commit, Date) set via -ldflags
//   - Runtime build info from debug.ReadBuildInfo()
//   - Fallback defaults for development builds
//
// The same metadata feeds the version command, the info command and the
// svodfs_build_info gauge served by a mount's metrics endpoint.
//
// Build Integration:
//
//	go build -ldflags "-X github.com/dendrascience/svodfs/version.Version=v1.0.0 -X github.com/dendrascience/svodfs/version.Commit=abc123"
package version
