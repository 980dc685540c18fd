// Package util provides the host-side plumbing shared by the svodfs
// commands.
//
// Key Components:
//
// Configuration:
//   - MountConfig loaded from YAML, with flags layered on top by the CLI
//   - LogLevel parsing shared by the config file and the --log-level flag
//
// Fragment Discovery:
//   - Data#### files located beside a content header in <header>.data/
//   - Index order enforced, gaps rejected
//
// Inodes:
//   - InodeTable issuing stable per-path inode numbers for FUSE nodes
//
// Logging:
//   - NewLogger building the slog handler passed to the library packages
package util
