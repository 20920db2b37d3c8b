package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the current released version.
// This value can be overridden at build time using ldflags:
//
//	go build -ldflags "-X github.com/hrygo/vecmem/internal/version.Version=v0.3.0"
var Version = "0.0.0-dev"

// DevVersion is the current development version.
var DevVersion = Version

// GitCommit is the git commit hash at build time.
// Set via ldflags: -X github.com/hrygo/vecmem/internal/version.GitCommit=$(git rev-parse HEAD)
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
// Set via ldflags: -X github.com/hrygo/vecmem/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)
var BuildTime = "unknown"

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

// canonical turns "0.7.4" into "v0.7.4", leaving prefixed values alone.
func canonical(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
// Invalid versions compare lower than any valid one.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > -1
}

func shortCommit() string {
	if GitCommit == "" || GitCommit == "unknown" {
		return ""
	}
	if len(GitCommit) > 8 {
		return GitCommit[:8]
	}
	return GitCommit
}

// String returns the version string with optional commit hash.
func String() string {
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s-%s", Version, c)
	}
	return Version
}

// StringFull returns the complete version information including build metadata.
func StringFull() string {
	parts := []string{fmt.Sprintf("Version=%s", Version)}
	if c := shortCommit(); c != "" {
		parts = append(parts, fmt.Sprintf("Commit=%s", c))
	}
	if BuildTime != "" && BuildTime != "unknown" {
		parts = append(parts, fmt.Sprintf("BuildTime=%s", BuildTime))
	}
	return strings.Join(parts, " ")
}
