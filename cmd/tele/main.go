package main

import (
	"os"

	"github.com/go-delve/tele/cmd/tele/cmds"
	"github.com/go-delve/tele/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.TeleVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
