// Package version reports build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/wayfarer/internal/version.Version=0.3.0
//	  -X github.com/soyeahso/wayfarer/internal/version.Commit=abc123
//	  -X github.com/soyeahso/wayfarer/internal/version.Date=2026-10-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("wayfarer %s (commit: %s, built: %s, %s, %s/%s)",
		Version, short(Commit), Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	return "wayfarer/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
