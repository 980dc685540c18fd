package util

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDescriptorOffset is where a content header stores the SVOD
// volume descriptor.
const DefaultDescriptorOffset = 0x379

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// ParseLogLevel accepts debug, info, warn(ing) and error.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelError, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
}

// UnmarshalYAML implements custom YAML unmarshaling for LogLevel
func (l *LogLevel) UnmarshalYAML(value *yaml.Node) error {
	var i int
	if err := value.Decode(&i); err == nil {
		if i < int(LogLevelDebug) || i > int(LogLevelError) {
			return fmt.Errorf("%w: log level %d", ErrInvalidConfig, i)
		}
		*l = LogLevel(i)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("log_level must be a string (debug/info/warn/error) or integer (0-3)")
	}
	lvl, err := ParseLogLevel(s)
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	}
	return "error"
}

// Slog returns the matching slog level.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	}
	return slog.LevelError
}

// MountConfig describes one SVOD container and how to serve it.
type MountConfig struct {
	// HeaderFile is the content header holding the volume descriptor.
	HeaderFile string `yaml:"header_file"`
	// Fragments lists the Data#### files in order. When empty they are
	// discovered next to HeaderFile.
	Fragments        []string `yaml:"fragments"`
	DescriptorOffset int64    `yaml:"descriptor_offset"`
	// CacheCapacity overrides the descriptor's cache element count.
	CacheCapacity int      `yaml:"cache_capacity"`
	LogLevel      LogLevel `yaml:"log_level"`
	MetricsAddr   string   `yaml:"metrics_addr"`
	Mountpoint    string   `yaml:"mountpoint"`
	AllowOther    bool     `yaml:"allow_other"`
}

// DefaultMountConfig returns the values used when neither a config
// file nor a flag sets them.
func DefaultMountConfig() MountConfig {
	return MountConfig{
		DescriptorOffset: DefaultDescriptorOffset,
		LogLevel:         LogLevelError,
	}
}

// LoadMountConfig reads a YAML mount configuration. Relative paths in
// the file are taken relative to the file's directory.
func LoadMountConfig(path string) (MountConfig, error) {
	cfg := DefaultMountConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read mount config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse mount config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.HeaderFile = rel(cfg.HeaderFile)
	cfg.Mountpoint = rel(cfg.Mountpoint)
	for i, f := range cfg.Fragments {
		cfg.Fragments[i] = rel(f)
	}
	return cfg, nil
}

// Validate checks the fields every command needs.
func (c *MountConfig) Validate() error {
	if c.HeaderFile == "" {
		return ErrMissingHeader
	}
	if c.DescriptorOffset < 0 {
		return fmt.Errorf("%w: descriptor offset %d", ErrInvalidConfig, c.DescriptorOffset)
	}
	if c.CacheCapacity < 0 || c.CacheCapacity > 1<<16 {
		return fmt.Errorf("%w: cache capacity %d", ErrInvalidConfig, c.CacheCapacity)
	}
	return nil
}

// ResolveFragments returns the configured fragments, discovering them
// beside the header file when none are listed.
func (c *MountConfig) ResolveFragments() ([]string, error) {
	if len(c.Fragments) > 0 {
		return c.Fragments, nil
	}
	return DiscoverFragments(FragmentDir(c.HeaderFile))
}
