// Package cmd provides the command-line interface implementation for svodfs.
//
// This package contains all the subcommand implementations for the svodfs CLI tool.
// It uses the Cobra library for command structure and Fang for styling.
//
// The package is organized into the following commands:
//   - root: Main command coordinator and entry point
//   - mount: FUSE mounting of a container's GDFX volume
//   - ls, cat, extract: Browsing and copying files without a mount
//   - verify: Whole-payload hash tree verification
//   - info: Volume descriptor and GDFX header summary
//
// Every container command shares the same flags (open.go): a content
// header, optional explicit fragments, and an optional YAML config file
// whose values the flags override.
package cmd
