// Command voton manages a local page store from the shell.
//
// Usage:
//
//	voton add "Meeting notes" --parent page_...
//	voton ls [--parent <id>]
//	voton tree
//	voton rm <id> -r
//	voton export --dir backups
//	voton import backups/voton-export-2026-01-01.json
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/kittclouds/voton/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.Run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	os.Exit(code)
}
