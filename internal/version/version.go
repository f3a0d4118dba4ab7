// Package version reports how the pipeframe binary was built.
package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
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

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string   `json:"version"`
	BuildDate string   `json:"build_date"`
	GitCommit string   `json:"git_commit"`
	GoVersion string   `json:"go_version"`
	Platform  string   `json:"platform"`
	Dirty     bool     `json:"dirty"`
	Main      Module   `json:"main"`
	Deps      []Module `json:"deps"`
}

// Module is a module linked into the binary.
type Module struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// Info collects the ldflags values and the module graph embedded by the
// Go toolchain. A commit recorded by the toolchain fills in a missing
// GitCommit.
func Info() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: GoVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     strings.HasSuffix(GitCommit, "-dirty"),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.Main = Module{Path: bi.Main.Path, Version: bi.Main.Version}
	for _, dep := range bi.Deps {
		if dep.Replace != nil {
			dep = dep.Replace
		}
		info.Deps = append(info.Deps, Module{Path: dep.Path, Version: dep.Version})
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == unknownValue {
				info.GitCommit = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				info.Dirty = true
			}
		}
	}
	return info
}

// Short is the one-line form used in log lines and the version command's
// --short flag.
func (b BuildInfo) Short() string {
	s := b.Version
	if b.GitCommit != unknownValue {
		s += "+" + shortCommit(b.GitCommit)
	}
	if b.Dirty && !strings.HasSuffix(s, "-dirty") {
		s += "-dirty"
	}
	return s
}

// String returns a formatted version string
func (b BuildInfo) String() string {
	var sb strings.Builder
	sb.WriteString("pipeframe\n")
	sb.WriteString(fmt.Sprintf("Version: %s", b.Version))
	if b.Dirty {
		sb.WriteString(" (dirty)")
	}
	sb.WriteString("\n")

	if b.BuildDate != unknownValue {
		sb.WriteString(fmt.Sprintf("Build Date: %s\n", b.BuildDate))
	}
	if b.GitCommit != unknownValue {
		sb.WriteString(fmt.Sprintf("Git Commit: %s\n", shortCommit(b.GitCommit)))
	}
	sb.WriteString(fmt.Sprintf("Go Version: %s\n", b.GoVersion))
	if b.Platform != "" {
		sb.WriteString(fmt.Sprintf("Platform: %s\n", b.Platform))
	}
	if b.Main.Path != "" {
		sb.WriteString(fmt.Sprintf("Module: %s\n", b.Main.Path))
	}
	return sb.String()
}

// WriteDeps lists the linked modules, one "path version" pair per line.
func (b BuildInfo) WriteDeps(w io.Writer) error {
	for _, dep := range b.Deps {
		if _, err := fmt.Fprintf(w, "%s %s\n", dep.Path, dep.Version); err != nil {
			return err
		}
	}
	return nil
}

// IsRelease returns true if this is a release version (not dev)
func IsRelease() bool {
	return Version != "dev" && !strings.Contains(Version, "-")
}

func shortCommit(commit string) string {
	commit = strings.TrimSuffix(commit, "-dirty")
	if len(commit) > commitHashLength {
		return commit[:commitHashLength]
	}
	return commit
}
