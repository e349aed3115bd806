// Package main is the entry point for the appinit CLI.
//
// appinit deploys a durable workflow application to Fly.io or Hetzner Cloud
// as a resumable saga: it creates the app, allocates an IP, writes the
// rendered configuration to a volume, waits for secrets, launches the final
// machine and waits for its health check. A failed deployment is cleaned up
// by deleting the app.
//
// Commands: deploy, resume, step, status, render, secrets, destroy, version.
//
// For detailed usage information, run:
//
//	appinit --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/appinit/cmd/appinit/commands"
)

// Version information set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
