package main

import (
	"github.com/go-delve/jobctl/cmd/jobctl/cmds"
	"github.com/go-delve/jobctl/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.JobctlVersion.Build = Build
	}
	cmds.New(false).Execute()
}
