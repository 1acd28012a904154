// Package buildinfo reports the identity of the running binary. Release
// builds set the variables with -ldflags "-X"; otherwise the VCS stamp from
// the Go toolchain is used when present.
package buildinfo

import (
	"runtime/debug"
	"strings"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// String renders "version (commit, date)" for the startup log.
func String() string {
	commit, date := Commit, Date
	if commit == "" {
		commit, date = fromVCS(date)
	}
	parts := []string{commit}
	if date != "" {
		parts = append(parts, date)
	}
	return Version + " (" + strings.Join(parts, ", ") + ")"
}

func fromVCS(date string) (string, string) {
	commit := "local"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, date
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value[:min(len(s.Value), 7)]
		case "vcs.time":
			if date == "" {
				date = s.Value
			}
		}
	}
	return commit, date
}
