// Package main is the entry point for the kiln CLI.
//
// kiln converges a declared cloud resource graph (networks, subnets,
// clusters, node groups, in-cluster components) onto Hetzner Cloud and an
// attached Kubernetes cluster, and rolls application revisions out with
// surge, health verification and automatic rollback.
//
// Commands: init, plan, apply, destroy, deploy, rollback, status, unlock.
//
// For detailed usage information, run:
//
//	kiln --help
package main

import (
	"fmt"
	"os"

	"github.com/cloudkiln/kiln/cmd/kiln/commands"
	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	handlers.SetVersion(version)

	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(handlers.ExitCode(err))
	}
}
