//go:build linux

// Command exec-monitor runs one command under a wall-clock and memory limit
// and appends the measured elapsed milliseconds and peak memory KB to stdout.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"runbox/internal/execution/sandbox/engine"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := engine.RunHelper(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
