// Package version holds build metadata stamped in with -ldflags, filled from
// the go build info when the linker left them at their defaults.
package version

import (
	"fmt"
	"runtime/debug"
)

// Name is the application name used in logs, metrics, traces and profiles
const Name = "linnemanlabs-editor"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		out.fromBuildInfo(bi)
	}
	return out
}

func (i *Info) fromBuildInfo(bi *debug.BuildInfo) {
	i.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "none" {
				i.Commit = s.Value
			}
		case "vcs.time":
			i.CommitDate = s.Value
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			dirty := s.Value == "true"
			i.VCSDirty = &dirty
		}
	}
}

// String is the -V output
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)",
		Name, i.Version, i.Commit, i.CommitDate, i.BuildId, i.BuildDate, i.GoVersion,
		i.VCSDirty != nil && *i.VCSDirty)
}
