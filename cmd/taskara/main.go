// Package main provides the entry point for the taskara CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/randalmurphal/taskara/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
