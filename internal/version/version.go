// Package version reports build metadata for the vista binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/vista/internal/program"
)

// Set at build time with -ldflags "-X github.com/conneroisu/vista/internal/version.Version=v1.2.3".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version        string    `json:"version"`
	Commit         string    `json:"commit"`
	BuildTime      time.Time `json:"build_time"`
	GoVersion      string    `json:"go_version"`
	Platform       string    `json:"platform"`
	Dirty          bool      `json:"dirty"`
	ArtifactFormat int       `json:"artifact_format"`
}

type vcsInfo struct {
	module   string
	revision string
	modified bool
}

var readVCS = sync.OnceValue(func() vcsInfo {
	var v vcsInfo
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v.module = info.Main.Version
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.modified":
			v.modified = s.Value == "true"
		}
	}
	return v
})

// Get collects build metadata, preferring linker-provided values over the
// module's embedded VCS information.
func Get() Info {
	vcs := readVCS()

	info := Info{
		Version:        Version,
		Commit:         GitCommit,
		BuildTime:      parseTime(BuildTime),
		GoVersion:      runtime.Version(),
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:          vcs.modified,
		ArtifactFormat: program.FormatVersion,
	}

	if info.Commit == "" || info.Commit == "unknown" {
		info.Commit = vcs.revision
		if info.Commit == "" {
			info.Commit = "unknown"
		}
	}
	if info.Version == "" || info.Version == "dev" {
		switch {
		case vcs.module != "" && vcs.module != "(devel)":
			info.Version = vcs.module
		case len(vcs.revision) >= 7:
			info.Version = "dev-" + vcs.revision[:7]
		default:
			info.Version = "dev"
		}
	}
	return info
}

// IsRelease reports whether this is a tagged build.
func (i Info) IsRelease() bool {
	return i.Version != "dev" && !strings.HasPrefix(i.Version, "dev-")
}

// Short is the one-line form printed by "vista version --short".
func (i Info) Short() string {
	if len(i.Commit) >= 7 && i.IsRelease() {
		return fmt.Sprintf("%s (%s)", i.Version, i.Commit[:7])
	}
	return i.Version
}

// String renders every field, one per line.
func (i Info) String() string {
	lines := []string{"Version: " + i.Version}
	if i.Commit != "unknown" {
		commit := "Commit: " + i.Commit
		if i.Dirty {
			commit += " (dirty)"
		}
		lines = append(lines, commit)
	}
	if !i.BuildTime.IsZero() {
		lines = append(lines, "Built: "+i.BuildTime.UTC().Format(time.RFC3339))
	}
	lines = append(lines,
		"Go: "+i.GoVersion,
		"Platform: "+i.Platform,
		fmt.Sprintf("Artifact format: %d", i.ArtifactFormat),
	)
	return strings.Join(lines, "\n")
}

func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
