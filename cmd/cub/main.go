// Package main provides the entry point for the cub CLI.
package main

import (
	"context"
	"os"

	"github.com/cubtools/cub/internal/cli"
)

// Build-time version information, set via ldflags.
//
//nolint:gochecknoglobals // ldflags targets
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	ctx := context.Background()
	info := cli.BuildInfo{Version: version, Commit: commit, Date: date}
	if err := cli.Execute(ctx, info); err != nil {
		os.Exit(1)
	}
}
