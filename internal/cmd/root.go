package cmd

import (
	"github.com/dendrascience/svodfs/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root cobra command for the svodfs CLI.
// It sets up all subcommands, command groups, and basic configuration.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "svodfs",
		Short: "svodfs - A read-only FUSE filesystem for SVOD game containers",
		Long: `svodfs mounts SVOD containers: disc images split across Data#### fragment
files, protected by a SHA-1 hash tree and carrying a GDFX filesystem.

Every block read is verified against the hash tree rooted in the container's
volume descriptor, so a mounted container either returns the original bytes
or an I/O error.

Use subcommands to perform different operations:
  - mount: Mount a container's GDFX volume at a mountpoint
  - ls, cat, extract: Browse and copy files without mounting
  - verify: Check every block against the hash tree
  - info: Show the volume descriptor and GDFX header`,
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	groupFilesystem := "filesystem"
	groupInspect := "inspect"

	// Add command groups for better organization
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupInspect,
		Title: "Inspection Commands",
	})

	mountCmd := NewMountCmd()
	lsCmd := NewLsCmd()
	catCmd := NewCatCmd()
	extractCmd := NewExtractCmd()
	verifyCmd := NewVerifyCmd()
	infoCmd := NewInfoCmd()

	mountCmd.GroupID = groupFilesystem
	extractCmd.GroupID = groupFilesystem
	lsCmd.GroupID = groupInspect
	catCmd.GroupID = groupInspect
	verifyCmd.GroupID = groupInspect
	infoCmd.GroupID = groupInspect

	// Add subcommands
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}
