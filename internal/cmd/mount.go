package cmd

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/svodfs/gdfxfs"
	"github.com/dendrascience/svodfs/util"
	"github.com/dendrascience/svodfs/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// NewMountCmd creates and returns the mount subcommand for the svodfs CLI.
// It serves the GDFX volume of a container read-only at a mountpoint.
func NewMountCmd() *cobra.Command {
	var (
		flags       containerFlags
		metricsAddr string
		allowOther  bool
	)

	cmd := &cobra.Command{
		Use:   "mount [MOUNTPOINT]",
		Short: "Mount an SVOD container read-only",
		Long: `Mount the GDFX volume of an SVOD container at the specified mountpoint.

The container is named by --header (the content header file) or by the
header_file key of a --config file. Data fragments are discovered in the
<header>.data directory unless listed with --fragment.

MOUNTPOINT may be omitted when the config file sets mountpoint. Every block
read through the mount is verified against the container's hash tree; blocks
that fail verification return EIO.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Mountpoint = args[0]
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("allow-other") {
				cfg.AllowOther = allowOther
			}
			return runMount(cmd, cfg)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "Allow other users to access the mount")

	return cmd
}

// checkMountpoint rejects mountpoints that would hide the container
// files they serve.
func checkMountpoint(cfg util.MountConfig, fragments []string) error {
	if cfg.Mountpoint == "" {
		return errors.New("no mountpoint given")
	}
	for _, p := range append([]string{cfg.HeaderFile}, fragments...) {
		if pathsOverlap(cfg.Mountpoint, p) {
			return fmt.Errorf("mountpoint %s overlaps container file %s", cfg.Mountpoint, p)
		}
	}
	return nil
}

// pathsOverlap reports whether either path is the other or lies inside it.
func pathsOverlap(path1, path2 string) bool {
	abs1, err1 := filepath.Abs(path1)
	abs2, err2 := filepath.Abs(path2)
	if err1 != nil || err2 != nil {
		abs1, abs2 = filepath.Clean(path1), filepath.Clean(path2)
	}
	return within(abs1, abs2) || within(abs2, abs1)
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func runMount(cmd *cobra.Command, cfg util.MountConfig) error {
	fmt.Fprintf(cmd.OutOrStdout(), "svodfs %s starting...\n", version.GetFullVersion())

	fragments, err := cfg.ResolveFragments()
	if err != nil {
		return err
	}
	if err := checkMountpoint(cfg, fragments); err != nil {
		return err
	}
	cfg.Fragments = fragments

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		version.NewCollector(),
	)

	c, err := openContainer(ctx, cfg, reg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, reg, c.logger)
		defer srv.Close()
	}

	options := []fuse.MountOption{
		fuse.FSName("svodfs-" + c.vol.ID().String()[:8]),
		fuse.Subtype("svodfs"),
		fuse.ReadOnly(),
	}
	if cfg.AllowOther {
		options = append(options, fuse.AllowOther())
	}

	conn, err := fuse.Mount(cfg.Mountpoint, options...)
	if err != nil {
		return fmt.Errorf("mounting at %s: %w", cfg.Mountpoint, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		log.Println("Received interrupt signal, shutting down...")
		if err := fuse.Unmount(cfg.Mountpoint); err != nil {
			log.Printf("Unmount %s: %v", cfg.Mountpoint, err)
		}
	}()

	filesystem := gdfxfs.New(c.vol, gdfxfs.Options{
		Logger: c.logger,
		Uid:    uint32(os.Getuid()),
		Gid:    uint32(os.Getgid()),
	})

	log.Printf("svodfs %s mounted at %s (volume %s, %d fragments)",
		version.GetVersion(), cfg.Mountpoint, c.vol.ID(), len(fragments))
	if err := fs.Serve(conn, filesystem); err != nil {
		return err
	}

	st := c.dev.Stats()
	log.Printf("Shutdown complete (cache hits %d, misses %d, hash mismatches %d)",
		st.Hits, st.Misses, st.HashMismatches)
	return nil
}

// startMetricsServer exposes reg on addr at /metrics.
func startMetricsServer(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("prometheus exporter listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start metrics server: %v", err)
		}
	}()
	return srv
}
