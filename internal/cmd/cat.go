package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/dendrascience/svodfs/gdfx"
	"github.com/spf13/cobra"
)

// NewCatCmd creates and returns the cat subcommand for the svodfs CLI.
func NewCatCmd() *cobra.Command {
	var flags containerFlags

	cmd := &cobra.Command{
		Use:   "cat PATH...",
		Short: "Write files of the volume to standard output",
		Args:  cobra.MinimumNArgs(1),
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

			for _, path := range args {
				if err := catFile(ctx, cmd.OutOrStdout(), c.vol, path); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func catFile(ctx context.Context, w io.Writer, vol *gdfx.Volume, path string) error {
	f, err := vol.Open(ctx, path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, contextReader{ctx, f}); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// contextReader reads a file with a fixed context, so a cancelled
// command stops between pages.
type contextReader struct {
	ctx context.Context
	f   *gdfx.File
}

func (r contextReader) Read(p []byte) (int, error) {
	return r.f.ReadContext(r.ctx, p)
}
