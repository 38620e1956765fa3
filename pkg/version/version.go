package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/frostdev-ops/hmip-go/pkg/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// BuildInfo is reported by /health and the hmip_build_info metric
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersion returns the release version, or dev-<short commit> for development builds
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	commit := GitCommit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	if commit == "" {
		commit = "unknown"
	}
	return "dev-" + commit
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   GetVersion(),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// UserAgent identifies the daemon towards MQTT brokers and in logs
func UserAgent() string {
	return fmt.Sprintf("hmipd/%s (%s/%s)", GetVersion(), runtime.GOOS, runtime.GOARCH)
}
