package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	kcli "github.com/kubeheal/kubeheal/pkg/cli"
	"github.com/kubeheal/kubeheal/pkg/logging"
	"github.com/kubeheal/kubeheal/pkg/version"
)

func main() {
	// The logger is installed before flag parsing so config errors are
	// already structured; commands may raise the level from config later.
	logging.SetDefaultStructuredLogger("kubeheal", version.Version,
		logging.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := kcli.Root().Run(ctx, os.Args); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}
