package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/urfave/cli/v2"
)

// Populated by the linker on release builds.
var (
	GitCommit string
	GitTag    string
)

func newCmd_Version() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information of this binary.",
		Action: func(c *cli.Context) error {
			fmt.Printf("cdtb %s (%s, %s/%s)\n", versionString(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
			if rev, modified := vcsRevision(); rev != "" {
				suffix := ""
				if modified {
					suffix = " (modified)"
				}
				fmt.Printf("revision: %s%s\n", rev, suffix)
			}
			return nil
		},
	}
}

// versionString prefers the release tag, then the commit baked in by the
// linker, then whatever the build info carries.
func versionString() string {
	if GitTag != "" {
		return GitTag
	}
	if GitCommit != "" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}

// vcsRevision digs the VCS revision out of the build info for binaries
// built without linker flags.
func vcsRevision() (rev string, modified bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	return rev, modified
}
