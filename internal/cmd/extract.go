package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dendrascience/svodfs/gdfx"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewExtractCmd creates and returns the extract subcommand for the svodfs CLI.
func NewExtractCmd() *cobra.Command {
	var (
		flags containerFlags
		jobs  int
	)

	cmd := &cobra.Command{
		Use:   "extract DEST [PATH]",
		Short: "Copy files out of the volume",
		Long: `Copy a file or directory tree of the container's GDFX volume into DEST
on the host. PATH defaults to the root directory. Directories are created as
needed; existing files are overwritten.

Every byte is verified against the container's hash tree while it is copied;
extraction stops at the first failure.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			path := "/"
			if len(args) == 2 {
				path = args[1]
			}
			ctx := cmd.Context()
			c, err := openContainer(ctx, cfg, nil, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.Close()

			n, bytes, err := extract(ctx, c.vol, path, args[0], jobs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d files (%d bytes) to %s\n", n, bytes, args[0])
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "Number of files copied concurrently")

	return cmd
}

// extractJob is one file to copy: the disc path and its host target.
type extractJob struct {
	src string
	dst string
	fcb *gdfx.FCB
}

// extract copies path from vol into dest and returns the number of
// files and bytes written.
func extract(ctx context.Context, vol *gdfx.Volume, path, dest string, jobs int) (int, int64, error) {
	root, err := vol.Lookup(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	defer vol.Release(root)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, 0, err
	}

	var work []extractJob
	if root.IsDir() {
		if work, err = collect(ctx, vol, root, strings.TrimSuffix(path, "/"), dest); err != nil {
			return 0, 0, err
		}
	} else {
		if err := checkName(root.Name); err != nil {
			return 0, 0, err
		}
		work = []extractJob{{src: path, dst: filepath.Join(dest, root.Name), fcb: root}}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	var total int64
	for _, j := range work {
		total += int64(j.fcb.Size)
		g.Go(func() error {
			return copyFile(ctx, vol, j)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return len(work), total, nil
}

// collect creates the host directories under dest and returns the
// files below dir.
func collect(ctx context.Context, vol *gdfx.Volume, dir *gdfx.FCB, src, dest string) ([]extractJob, error) {
	entries, err := vol.ReadDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []extractJob
	for _, e := range entries {
		if err := checkName(e.Name); err != nil {
			return nil, err
		}
		childSrc := src + "/" + e.Name
		childDst := filepath.Join(dest, e.Name)
		child, err := vol.ResolveChild(ctx, dir, e.Name)
		if err != nil {
			return nil, err
		}
		if !child.IsDir() {
			// Registered FCBs outlive their references; copyFile
			// takes its own.
			vol.Release(child)
			out = append(out, extractJob{src: childSrc, dst: childDst, fcb: child})
			continue
		}
		err = os.MkdirAll(childDst, 0o755)
		if err == nil {
			var sub []extractJob
			sub, err = collect(ctx, vol, child, childSrc, childDst)
			out = append(out, sub...)
		}
		vol.Release(child)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func copyFile(ctx context.Context, vol *gdfx.Volume, j extractJob) error {
	f := vol.OpenFCB(j.fcb)
	defer f.Close()

	out, err := os.Create(j.dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, contextReader{ctx, f}); err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", j.src, err)
	}
	return out.Close()
}

// checkName rejects disc names that would escape the destination.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: unsafe name %q", gdfx.ErrInvalidDirectory, name)
	}
	return nil
}
