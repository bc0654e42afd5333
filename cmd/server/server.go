// Package server implements the skiff server command: HTTP API, background
// schedulers and the fleet coordination loops in a single process.
package server

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/skiff-cd/skiff/app"
	"github.com/skiff-cd/skiff/watcher"
	"github.com/skiff-cd/skiff/web"
	"github.com/spf13/cobra"
)

// NewCmdServer creates the command running the API server and all schedulers.
func NewCmdServer() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the Skiff server (HTTP API + schedulers + coordination)",
		Long: `Starts the HTTP API, the remote-commit poller, the fleet deploy-sync
poller, the heartbeat publisher and the leader elector in a single process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	a := app.Get()
	cfg := a.Config

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer a.Close()

	slog.Info("Starting Skiff server",
		"machine_id", cfg.MachineID,
		"version", app.Version)

	// The heartbeat monitor is a leader-only duty: exactly one machine in the
	// fleet scans for offline peers at a time.
	var dutyMu sync.Mutex
	var dutyCancel context.CancelFunc

	onGained := func() {
		dutyMu.Lock()
		defer dutyMu.Unlock()
		if dutyCancel != nil {
			return
		}
		dutyCtx, stop := context.WithCancel(ctx)
		dutyCancel = stop
		go func() {
			if err := a.Monitor.Start(dutyCtx); err != nil {
				slog.Error("Heartbeat monitor failed", "error", err)
			}
		}()
	}
	onLost := func() {
		dutyMu.Lock()
		defer dutyMu.Unlock()
		if dutyCancel != nil {
			dutyCancel()
			dutyCancel = nil
		}
	}

	a.InitCoordinators(onGained, onLost, nil)

	if cfg.CoordinationEnabled() {
		go func() {
			if err := a.Elector.Start(ctx); err != nil {
				slog.Error("Leader elector failed", "error", err)
			}
		}()
		go func() {
			if err := a.Heartbeat.Start(ctx); err != nil {
				slog.Error("Heartbeat publisher failed", "error", err)
			}
		}()

		syncWatcher := watcher.NewSyncWatcher(a.Registry, a.DeploySync, a.Deployer, cfg.SyncInterval)
		go func() {
			if err := syncWatcher.Start(ctx); err != nil {
				slog.Error("Sync watcher failed", "error", err)
			}
		}()
	}

	pollWatcher := watcher.NewPollWatcher(a.Registry, a.Git, a.Deployer, cfg.PollInterval, cfg.PollInitialDelay)
	go func() {
		if err := pollWatcher.Start(ctx); err != nil {
			slog.Error("Poll watcher failed", "error", err)
		}
	}()

	handler := web.NewHandler(a.Registry, a.Deployer, a.History, a.Monitor, a.Elector)
	return web.NewServer(cfg, handler).Start(ctx)
}
