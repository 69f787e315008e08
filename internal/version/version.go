// Package version carries build metadata stamped in by the linker.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/shopagent/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/shopagent/internal/version.Commit=abc123
//	  -X github.com/soyeahso/shopagent/internal/version.Date=2026-01-01"
//
// Builds without ldflags (go install) fall back to the module build info.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Name is the program name used in banners and outbound requests.
const Name = "shopagent"

type build struct {
	version, commit, date string
}

func current() build {
	b := build{Version, Commit, Date}
	if bi, ok := debug.ReadBuildInfo(); ok {
		b = b.fill(bi)
	}
	return b
}

// fill replaces unstamped fields with values from the Go build info.
func (b build) fill(bi *debug.BuildInfo) build {
	if b.version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		b.version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && b.commit == "unknown":
			b.commit = s.Value
		case s.Key == "vcs.time" && b.date == "unknown":
			b.date = s.Value
		}
	}
	return b
}

// Info returns a formatted version string.
func Info() string {
	b := current()
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s/%s)",
		Name, b.version, short(b.commit), b.date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on outbound provider requests.
func UserAgent() string {
	return Name + "/" + current().version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
