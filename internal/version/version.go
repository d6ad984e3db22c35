// Package version provides the build version of the tools
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// set with -ldflags "-X github.com/effective-security/pk11signer/internal/version.version=v1.2.3 ..."
var (
	version = ""
	commit  = ""
)

// Info describes the build
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
}

// Current returns the version of the running binary
func Current() Info {
	v := Info{
		Version:   version,
		Commit:    commit,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if v.Version == "" && bi.Main.Version != "" {
			v.Version = bi.Main.Version
		}
		if v.Commit == "" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					v.Commit = s.Value
				}
			}
		}
	}
	if v.Version == "" {
		v.Version = "(devel)"
	}
	return v
}

func (v Info) String() string {
	if v.Commit == "" {
		return fmt.Sprintf("%s %s", v.Version, v.GoVersion)
	}
	commit := v.Commit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	return fmt.Sprintf("%s (%s) %s", v.Version, commit, v.GoVersion)
}
