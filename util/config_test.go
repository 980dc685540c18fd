package util

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLoadMountConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.yaml")
	content := `header_file: content/ABCDEF
fragments:
  - content/ABCDEF.data/Data0000
  - /abs/Data0001
cache_capacity: 32
log_level: debug
metrics_addr: ":9101"
mountpoint: mnt
allow_other: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadMountConfig(path)
	if err != nil {
		t.Fatalf("LoadMountConfig: %v", err)
	}
	if cfg.HeaderFile != filepath.Join(dir, "content/ABCDEF") {
		t.Errorf("HeaderFile = %q", cfg.HeaderFile)
	}
	if len(cfg.Fragments) != 2 || cfg.Fragments[0] != filepath.Join(dir, "content/ABCDEF.data/Data0000") || cfg.Fragments[1] != "/abs/Data0001" {
		t.Errorf("Fragments = %v", cfg.Fragments)
	}
	if cfg.DescriptorOffset != DefaultDescriptorOffset {
		t.Errorf("DescriptorOffset = 0x%x, want the default 0x%x", cfg.DescriptorOffset, DefaultDescriptorOffset)
	}
	if cfg.CacheCapacity != 32 || cfg.LogLevel != LogLevelDebug || cfg.MetricsAddr != ":9101" || !cfg.AllowOther {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Mountpoint != filepath.Join(dir, "mnt") {
		t.Errorf("Mountpoint = %q", cfg.Mountpoint)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMountConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadMountConfig(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want os.ErrNotExist", err)
	}
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("log_level: loud\n"), 0o644)
	if _, err := LoadMountConfig(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("bad log level error = %v, want ErrInvalidConfig", err)
	}
}

func TestMountConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  MountConfig
		want error
	}{
		{"no header", MountConfig{}, ErrMissingHeader},
		{"negative offset", MountConfig{HeaderFile: "h", DescriptorOffset: -1}, ErrInvalidConfig},
		{"huge cache", MountConfig{HeaderFile: "h", CacheCapacity: 1 << 20}, ErrInvalidConfig},
		{"ok", MountConfig{HeaderFile: "h", CacheCapacity: 64}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		yaml string
		want LogLevel
		slog slog.Level
	}{
		{"debug", LogLevelDebug, slog.LevelDebug},
		{"INFO", LogLevelInfo, slog.LevelInfo},
		{"warning", LogLevelWarn, slog.LevelWarn},
		{"error", LogLevelError, slog.LevelError},
		{"2", LogLevelWarn, slog.LevelWarn},
	}
	for _, tt := range tests {
		var l LogLevel
		if err := yaml.Unmarshal([]byte(tt.yaml), &l); err != nil {
			t.Errorf("unmarshal %q: %v", tt.yaml, err)
			continue
		}
		if l != tt.want || l.Slog() != tt.slog {
			t.Errorf("%q decoded to %v (%v), want %v (%v)", tt.yaml, l, l.Slog(), tt.want, tt.slog)
		}
	}

	var l LogLevel
	if err := yaml.Unmarshal([]byte("9"), &l); err == nil {
		t.Error("out of range integer level should fail")
	}
	if _, err := ParseLogLevel("verbose"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ParseLogLevel(verbose) error = %v", err)
	}
}
