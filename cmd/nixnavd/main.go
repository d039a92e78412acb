// Command nixnavd is the NixNav indexing daemon: a single long-lived
// process with no arguments, started by a user systemd unit and
// stopped by SIGTERM/SIGINT.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nixnav/nixnavd/internal/config"
	"github.com/nixnav/nixnavd/internal/daemon"
	"github.com/nixnav/nixnavd/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	logging.Init(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("nixnavd: failed to load configuration", "error", err)
		return 1
	}

	d, err := daemon.New(cfg)
	if err != nil {
		slog.Error("nixnavd: failed to initialize", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("nixnavd: starting", "socket", cfg.SocketPath, "db", cfg.DBPath)
	if err := d.Run(ctx); err != nil {
		slog.Error("nixnavd: fatal error", "error", err)
		return 1
	}

	slog.Info("nixnavd: clean shutdown")
	return 0
}
