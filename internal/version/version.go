// Package version reports the build version of the edbridge binaries.
package version

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"
)

// version is set with -ldflags "-X github.com/nupi-ai/edbridge/internal/version.version=...".
var version = "dev"

// String returns the build version. Without an ldflags override it falls
// back to the main module version recorded by the Go toolchain.
func String() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return version
}

// ForTesting overrides the version string and returns a cleanup function
// that restores the original value. Must not be called concurrently.
func ForTesting(v string) func() {
	original := version
	version = v
	return func() { version = original }
}

// pseudoSuffix matches the trailing "-N-gHASH" of git describe output and
// the "-0.YYYYMMDDhhmmss-HASH" of Go pseudo-versions.
var pseudoSuffix = regexp.MustCompile(`(-\d+-g[0-9a-f]+|-0\.\d{14}-[0-9a-f]{12})$`)

func normalize(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	return pseudoSuffix.ReplaceAllString(v, "")
}

// Format ensures a "v" prefix on release versions; "dev" and "" pass
// through unchanged.
func Format(v string) string {
	if v == "" || v == "dev" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Mismatch compares this binary's version with the one a daemon reported
// in its hello reply. It returns a warning, or "" when the versions agree
// or either side is a development build.
func Mismatch(daemonVersion string) string {
	local := String()
	if daemonVersion == "" || local == "" || local == "dev" || daemonVersion == "dev" {
		return ""
	}
	if normalize(local) == normalize(daemonVersion) {
		return ""
	}
	return fmt.Sprintf("warning: edbridge %s is talking to edbridged %s; restart the daemon after upgrading",
		Format(local), Format(daemonVersion))
}
