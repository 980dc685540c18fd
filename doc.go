// Package main provides the svodfs command-line interface.
//
// svodfs is a read-only FUSE filesystem for SVOD containers: GDFX disc
// images split across Data#### fragment files and protected by a SHA-1
// hash tree. Every block is verified before it is returned.
//
// The main binary supports multiple subcommands:
//   - mount: Mount a container's GDFX volume at a mountpoint
//   - ls, cat, extract: Browse and copy files without mounting
//   - verify: Check every block against the hash tree
//   - info: Show the volume descriptor and GDFX header
package main
