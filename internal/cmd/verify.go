package cmd

import (
	"context"
	"fmt"

	"github.com/dendrascience/svodfs/gdfx"
	"github.com/spf13/cobra"
)

// NewVerifyCmd creates and returns the verify subcommand for the svodfs CLI.
// It checks the whole payload against the hash tree.
func NewVerifyCmd() *cobra.Command {
	var (
		flags    containerFlags
		progress bool
		tree     bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify every block of a container against its hash tree",
		Long: `Verify reads every data block of an SVOD container and checks it against
the container's hash tree, starting from the root digest in the volume
descriptor. It stops at the first block that fails and reports its index.

With --tree the GDFX directory tree is walked as well, checking that every
directory parses and every extent lies on the disc.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := openContainer(ctx, cfg, nil, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.Close()

			w := cmd.OutOrStdout()
			var report func(done, total uint32)
			if progress {
				report = func(done, total uint32) {
					fmt.Fprintf(w, "verified %d/%d blocks\n", done, total)
				}
			}
			if err := c.dev.Verify(ctx, report); err != nil {
				return err
			}
			desc := c.dev.Descriptor()
			fmt.Fprintf(w, "OK: %d blocks in %d fragments match the hash tree\n",
				desc.DataBlocks(), desc.Fragments())

			if !tree {
				return nil
			}
			dirs, files, err := walkTree(ctx, c.vol, c.vol.Root())
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "OK: %d directories, %d files\n", dirs, files)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "Print progress after each hash group")
	cmd.Flags().BoolVar(&tree, "tree", false, "Also walk the directory tree")

	return cmd
}

// walkTree resolves every entry below dir and counts directories
// (dir included) and files.
func walkTree(ctx context.Context, vol *gdfx.Volume, dir *gdfx.FCB) (int, int, error) {
	entries, err := vol.ReadDir(ctx, dir)
	if err != nil {
		return 0, 0, err
	}
	dirs, files := 1, 0
	for _, e := range entries {
		child, err := vol.ResolveChild(ctx, dir, e.Name)
		if err != nil {
			return 0, 0, err
		}
		if child.IsDir() {
			var d, f int
			d, f, err = walkTree(ctx, vol, child)
			dirs += d
			files += f
		} else {
			files++
		}
		vol.Release(child)
		if err != nil {
			return 0, 0, err
		}
	}
	return dirs, files, nil
}
