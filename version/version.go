package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Package names the module in version output.
const Package = "svodfs"

const fusePath = "bazil.org/fuse"

var (
	// Set with -ldflags -X. They take precedence over the embedded
	// build info.
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info describes the running binary.
type Info struct {
	Package   string `json:"package"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"go_version"`
	// FUSE is the bazil.org/fuse module version linked in, if known.
	FUSE string `json:"fuse"`
}

var embedded = sync.OnceValue(func() Info {
	info := Info{
		Package:   Package,
		Version:   "development",
		Commit:    "unknown",
		Date:      "unknown",
		GoVersion: runtime.Version(),
		FUSE:      "unknown",
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		info.Version = v
	}
	if bi.GoVersion != "" {
		info.GoVersion = bi.GoVersion
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.Date = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	for _, d := range bi.Deps {
		if d.Path != fusePath {
			continue
		}
		info.FUSE = d.Version
		if d.Replace != nil {
			info.FUSE = d.Replace.Path + "@" + d.Replace.Version
		}
	}
	return info
})

// GetInfo returns the build info with any linker-set values applied.
func GetInfo() Info {
	info := embedded()
	if Version != "dev" && Version != "" {
		info.Version = Version
	}
	if Commit != "unknown" && Commit != "" {
		info.Commit = Commit
	}
	if Date != "unknown" && Date != "" {
		info.Date = Date
	}
	return info
}

func GetVersion() string {
	return GetInfo().Version
}

// GetFullVersion returns the version with short commit and build date.
func GetFullVersion() string {
	return GetInfo().String()
}

func (i Info) String() string {
	if i.Commit == "unknown" || len(i.Commit) <= 7 {
		return i.Version
	}
	rev := i.Commit[:7]
	if i.Modified {
		rev += "-dirty"
	}
	if i.Date != "unknown" {
		return fmt.Sprintf("%s (%s, built %s)", i.Version, rev, i.Date)
	}
	return fmt.Sprintf("%s (%s)", i.Version, rev)
}

// Toolchain summarizes what the binary was built with.
func (i Info) Toolchain() string {
	return fmt.Sprintf("%s, %s/%s, fuse %s", i.GoVersion, runtime.GOOS, runtime.GOARCH, i.FUSE)
}

// PrintVersion writes human-readable version information to w
func PrintVersion(w io.Writer, appName string) {
	info := GetInfo()
	fmt.Fprintf(w, "%s version %s\n", appName, info)
	fmt.Fprintf(w, "Package: %s\n", info.Package)
	fmt.Fprintf(w, "Commit: %s\n", info.Commit)
	fmt.Fprintf(w, "Build Date: %s\n", info.Date)
	fmt.Fprintf(w, "Toolchain: %s\n", info.Toolchain())
}

// NewCollector returns a svodfs_build_info gauge, always 1, labelled
// with the build metadata.
func NewCollector() prometheus.Collector {
	info := GetInfo()
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "svodfs_build_info",
		Help: "Build metadata of the running svodfs binary",
		ConstLabels: prometheus.Labels{
			"version":   info.Version,
			"commit":    info.Commit,
			"goversion": info.GoVersion,
			"fuse":      info.FUSE,
		},
	})
	g.Set(1)
	return g
}
