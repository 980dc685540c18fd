package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dendrascience/svodfs/gdfx"
	"github.com/dendrascience/svodfs/svod"
	"github.com/dendrascience/svodfs/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// containerFlags are the flags shared by every command that opens a
// container. Flags that were set explicitly override the config file.
type containerFlags struct {
	config           string
	header           string
	fragments        []string
	descriptorOffset int64
	cache            int
	logLevel         string
	verbose          bool
}

func (f *containerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "YAML mount configuration file")
	cmd.Flags().StringVarP(&f.header, "header", "H", "", "Content header file holding the volume descriptor")
	cmd.Flags().StringArrayVar(&f.fragments, "fragment", nil, "Data fragment file, in order (repeatable; default: discover beside the header)")
	cmd.Flags().Int64Var(&f.descriptorOffset, "descriptor-offset", util.DefaultDescriptorOffset, "Offset of the volume descriptor in the header file")
	cmd.Flags().IntVar(&f.cache, "cache", 0, "Hash tree cache slots (default: from the descriptor)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "Shorthand for --log-level=debug")
}

// load builds the effective configuration from the config file and
// the flags.
func (f *containerFlags) load(cmd *cobra.Command) (util.MountConfig, error) {
	cfg := util.DefaultMountConfig()
	if f.config != "" {
		var err error
		if cfg, err = util.LoadMountConfig(f.config); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("header") {
		cfg.HeaderFile = f.header
	}
	if flags.Changed("fragment") {
		cfg.Fragments = f.fragments
	}
	if flags.Changed("descriptor-offset") {
		cfg.DescriptorOffset = f.descriptorOffset
	}
	if flags.Changed("cache") {
		cfg.CacheCapacity = f.cache
	}
	if flags.Changed("log-level") {
		lvl, err := util.ParseLogLevel(f.logLevel)
		if err != nil {
			return cfg, err
		}
		cfg.LogLevel = lvl
	}
	if f.verbose {
		cfg.LogLevel = util.LogLevelDebug
	}
	return cfg, cfg.Validate()
}

// container is an opened device with its mounted volume.
type container struct {
	cfg    util.MountConfig
	dev    *svod.Device
	vol    *gdfx.Volume
	logger *slog.Logger
}

// openContainer reads the descriptor, opens the fragments and mounts
// the GDFX volume they carry. Log output goes to logw.
func openContainer(ctx context.Context, cfg util.MountConfig, reg prometheus.Registerer, logw io.Writer) (*container, error) {
	logger := util.NewLogger(logw, cfg.LogLevel)

	desc, err := readDescriptor(cfg.HeaderFile, cfg.DescriptorOffset)
	if err != nil {
		return nil, err
	}
	paths, err := cfg.ResolveFragments()
	if err != nil {
		return nil, err
	}
	logger.Debug("opening container", "header", cfg.HeaderFile, "fragments", len(paths),
		"data_blocks", desc.DataBlocks(), "enhanced", desc.Enhanced())

	dev, err := svod.Open(ctx, paths, desc, svod.Options{
		CacheCapacity: cfg.CacheCapacity,
		Logger:        logger,
		Registerer:    reg,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.HeaderFile, err)
	}
	vol, err := gdfx.Mount(ctx, dev, gdfx.Options{Logger: logger})
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("mounting %s: %w", cfg.HeaderFile, err)
	}
	return &container{cfg: cfg, dev: dev, vol: vol, logger: logger}, nil
}

func readDescriptor(path string, off int64) (*svod.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening header: %w", err)
	}
	defer f.Close()
	desc, err := svod.ReadDescriptor(f, off)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor from %s: %w", path, err)
	}
	return desc, nil
}

func (c *container) Close() error {
	return c.dev.Close()
}
