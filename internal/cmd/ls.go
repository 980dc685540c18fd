package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/dendrascience/svodfs/gdfx"
	"github.com/spf13/cobra"
)

// NewLsCmd creates and returns the ls subcommand for the svodfs CLI.
func NewLsCmd() *cobra.Command {
	var (
		flags     containerFlags
		long      bool
		recursive bool
	)

	cmd := &cobra.Command{
		Use:   "ls [PATH]",
		Short: "List a directory of the volume",
		Long: `List the entries of a directory on the container's GDFX volume in
name order. PATH defaults to the root directory.

With --long each line shows the entry type, its size in bytes, its first
page on the disc and its name.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}

			ctx := cmd.Context()
			c, err := openContainer(ctx, cfg, nil, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.Close()

			fcb, err := c.vol.Lookup(ctx, path)
			if err != nil {
				return err
			}
			defer c.vol.Release(fcb)

			w := cmd.OutOrStdout()
			if !fcb.IsDir() {
				printEntry(w, fcb.Name, fcb.Size, fcb.FirstBlock, false, long)
				return nil
			}
			return listDir(ctx, w, c.vol, fcb, "", long, recursive)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show type, size and first page")
	cmd.Flags().BoolVarP(&recursive, "recursive", "R", false, "List subdirectories recursively")

	return cmd
}

func listDir(ctx context.Context, w io.Writer, vol *gdfx.Volume, dir *gdfx.FCB, prefix string, long, recursive bool) error {
	entries, err := vol.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		printEntry(w, prefix+e.Name, e.Size, e.FirstBlock, e.IsDir(), long)
		if !recursive || !e.IsDir() {
			continue
		}
		child, err := vol.ResolveChild(ctx, dir, e.Name)
		if err != nil {
			return err
		}
		err = listDir(ctx, w, vol, child, prefix+e.Name+"/", long, recursive)
		vol.Release(child)
		if err != nil {
			return err
		}
	}
	return nil
}

func printEntry(w io.Writer, name string, size, firstPage uint32, dir, long bool) {
	if dir {
		name += "/"
	}
	if !long {
		fmt.Fprintln(w, name)
		return
	}
	kind := "-"
	if dir {
		kind = "d"
	}
	fmt.Fprintf(w, "%s %12d %8d %s\n", kind, size, firstPage, name)
}
