// Package version carries build metadata stamped in at link time:
//
//	go build -ldflags="-X github.com/nodekv/nodekv/pkg/version.AppVersion=v1.2.3"
//
// Unstamped builds report the development defaults.
package version

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Unknown is used when build metadata is not provided.
	Unknown = "unknown"
	// DevelopmentVersion is the default version in local builds.
	DevelopmentVersion = "dev"
)

// Overridden through -ldflags -X at build time.
var (
	AppVersion = DevelopmentVersion
	GitCommit  = Unknown
	BuildTime  = Unknown
)

// Info is one build's version metadata, ready for logs and the version
// command.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Current captures the stamped build metadata under the given service
// name. Blank or whitespace-only values fall back to the development
// defaults.
func Current(serviceName string) Info {
	info := Info{
		Service:   strings.TrimSpace(serviceName),
		Version:   strings.TrimSpace(AppVersion),
		Commit:    strings.TrimSpace(GitCommit),
		BuildTime: strings.TrimSpace(BuildTime),
	}
	if info.Service == "" {
		info.Service = Unknown
	}
	if info.Version == "" {
		info.Version = DevelopmentVersion
	}
	if info.Commit == "" {
		info.Commit = Unknown
	}
	if info.BuildTime == "" {
		info.BuildTime = Unknown
	}
	return info
}

// ParseBuildTime parses BuildTime as RFC3339. The second return value
// is false when the stamp is absent or not RFC3339.
func (i Info) ParseBuildTime() (time.Time, bool) {
	if i.BuildTime == "" || i.BuildTime == Unknown {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, i.BuildTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// String returns a log-friendly representation.
func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s)", i.Service, i.Version, i.Commit, i.BuildTime)
}
