// Package version reports build information for the partjoin tools.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
)

const (
	unknownValue     = "unknown"
	commitHashLength = 7
)

// Build-time variables set by ldflags
var (
	Version   = "dev"
	BuildDate = unknownValue
	GitCommit = unknownValue
	GoVersion = runtime.Version()
)

// engineDeps are the modules whose versions change join behavior or file
// formats, listed by Info when present in the build.
var engineDeps = []string{
	"github.com/apache/arrow-go/v18",
	"github.com/RoaringBitmap/roaring/v2",
	"github.com/cespare/xxhash/v2",
	"github.com/golang/snappy",
}

// BuildInfo contains build information
type BuildInfo struct {
	Version   string   `json:"version"`
	BuildDate string   `json:"build_date"`
	GitCommit string   `json:"git_commit"`
	GoVersion string   `json:"go_version"`
	Dirty     bool     `json:"dirty"`
	Main      Module   `json:"main"`
	Deps      []Module `json:"deps"`
}

// Module represents a Go module with version information
type Module struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// Info returns build information. Deps lists the engine modules found in
// the running binary.
func Info() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: GoVersion,
		Dirty:     strings.HasSuffix(GitCommit, "-dirty"),
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		info.Main = Module{Path: buildInfo.Main.Path, Version: buildInfo.Main.Version}
		for _, dep := range buildInfo.Deps {
			if isEngineDep(dep.Path) {
				info.Deps = append(info.Deps, Module{Path: dep.Path, Version: dep.Version})
			}
		}
		sort.Slice(info.Deps, func(i, j int) bool { return info.Deps[i].Path < info.Deps[j].Path })
	}

	return info
}

func isEngineDep(path string) bool {
	for _, p := range engineDeps {
		if p == path {
			return true
		}
	}
	return false
}

// Short returns the one-line form printed by -version.
func (b BuildInfo) Short() string {
	s := "partjoin " + b.Version
	if b.Dirty {
		s += " (dirty)"
	}
	return s
}

// String returns a formatted multi-line version report
func (b BuildInfo) String() string {
	var sb strings.Builder
	sb.WriteString(b.Short())
	sb.WriteString("\n")

	if b.BuildDate != unknownValue && b.BuildDate != "" {
		sb.WriteString(fmt.Sprintf("Build Date: %s\n", b.BuildDate))
	}

	if b.GitCommit != unknownValue && b.GitCommit != "" {
		commit := b.GitCommit
		if len(commit) > commitHashLength {
			commit = commit[:commitHashLength]
		}
		sb.WriteString(fmt.Sprintf("Git Commit: %s\n", commit))
	}

	sb.WriteString(fmt.Sprintf("Go Version: %s\n", b.GoVersion))

	for _, dep := range b.Deps {
		sb.WriteString(fmt.Sprintf("  %s %s\n", dep.Path, dep.Version))
	}

	return sb.String()
}

// IsRelease returns true if this is a release version (not dev)
func IsRelease() bool {
	return Version != "dev" && !strings.Contains(Version, "-")
}
