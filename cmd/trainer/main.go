package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openeeap/haloalign/internal/api/cli"
)

var (
	// Version is the application version
	Version = "dev"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
	// GitCommit is the git commit hash
	GitCommit = "unknown"
)

func main() {
	cli.Version, cli.BuildTime, cli.GitCommit = Version, BuildTime, GitCommit

	// SIGINT/SIGTERM cancel the run; ranks stop at the next batch boundary
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

//Personal.AI order the ending
