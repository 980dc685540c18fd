package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dendrascience/svodfs/version"
	"github.com/spf13/cobra"
)

// NewInfoCmd creates and returns the info subcommand for the svodfs CLI.
func NewInfoCmd() *cobra.Command {
	var flags containerFlags

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the volume descriptor and GDFX header of a container",
		Args:  cobra.NoArgs,
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

			desc := c.dev.Descriptor()
			root := c.vol.Root()
			layout := "standard"
			if desc.Enhanced() {
				layout = "enhanced"
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Header:\t%s\n", cfg.HeaderFile)
			fmt.Fprintf(tw, "Fragments:\t%d\n", desc.Fragments())
			fmt.Fprintf(tw, "Layout:\t%s\n", layout)
			fmt.Fprintf(tw, "Start block:\t%d\n", desc.StartBlock())
			fmt.Fprintf(tw, "Data blocks:\t%d\n", desc.DataBlocks())
			fmt.Fprintf(tw, "Data start:\t0x%x\n", desc.DataStart())
			fmt.Fprintf(tw, "Cache slots:\t%d\n", c.dev.Cache().Capacity())
			fmt.Fprintf(tw, "Root digest:\t%x\n", desc.RootDigest)
			fmt.Fprintf(tw, "Volume ID:\t%s\n", c.vol.ID())
			fmt.Fprintf(tw, "Created:\t%s\n", c.vol.Created().UTC().Format(time.RFC3339))
			fmt.Fprintf(tw, "Disc size:\t%d bytes (%d pages)\n", c.dev.Size(), c.vol.Pages())
			fmt.Fprintf(tw, "Root directory:\tpage %d, %d bytes\n", root.FirstBlock, root.Size)
			build := version.GetInfo()
			fmt.Fprintf(tw, "Read by:\t%s %s (%s)\n", build.Package, build, build.Toolchain())
			return tw.Flush()
		},
	}

	flags.register(cmd)
	return cmd
}
