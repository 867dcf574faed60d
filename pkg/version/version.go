// Package version carries build metadata stamped in by the linker:
//
//	go build -ldflags "-X github.com/newtron-network/newtorch/pkg/version.Version=v0.3.0 \
//	  -X github.com/newtron-network/newtorch/pkg/version.GitCommit=abc1234"
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// IsDev reports whether the binary was built without version stamping.
func IsDev() bool { return Version == "dev" }

// String is the one-line form used by `newtorch version` and the startup log.
func String() string {
	if IsDev() {
		return "dev build"
	}
	if BuildDate == "unknown" {
		return fmt.Sprintf("%s (%s)", Version, GitCommit)
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, GitCommit, BuildDate)
}

// Labels returns the build metadata as metric labels.
func Labels() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
	}
}
