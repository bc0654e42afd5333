package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skiff-cd/skiff/coordination"
	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/registry"
)

// SyncWatcher polls the fleet's deploy-sync records and replays deployments
// published by other machines, converging every machine onto the same commit.
type SyncWatcher struct {
	registry registry.Service
	sync     *coordination.DeploySync
	deployer Deployer
	interval time.Duration
}

func NewSyncWatcher(
	reg registry.Service,
	sync *coordination.DeploySync,
	deployer Deployer,
	interval time.Duration,
) *SyncWatcher {
	return &SyncWatcher{
		registry: reg,
		sync:     sync,
		deployer: deployer,
		interval: interval,
	}
}

func (w *SyncWatcher) Start(ctx context.Context) error {
	slog.Info("Sync watcher starting", "sync_interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sync watcher shutting down")
			return nil
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				slog.Error("Sync cycle failed", "error", err)
			}
		}
	}
}

// Tick runs one sync cycle: for every project, fetch the fleet's latest sync
// record and deploy when another machine has moved ahead.
func (w *SyncWatcher) Tick(ctx context.Context) error {
	projects, err := w.registry.List()
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	for _, project := range projects {
		record, err := w.sync.Get(ctx, project.ID)
		if err != nil {
			slog.Error("Failed to read deploy sync record",
				"project_id", project.ID,
				"error", err)
			continue
		}

		if !w.sync.NeedsDeploy(record, project.RunningCommit) {
			continue
		}

		slog.Info("Fleet moved ahead, replaying deployment",
			"project_id", project.ID,
			"running_commit", project.RunningCommit,
			"fleet_commit", record.Commit,
			"source_machine", record.MachineID)

		deployment, err := w.deployer.Deploy(ctx, project.ID, domain.SyncTrigger(record.MachineID))
		if err != nil {
			slog.Error("Failed to replay deployment",
				"project_id", project.ID,
				"error", err)
			continue
		}
		if deployment.Status != domain.DeploymentStatusSuccess {
			slog.Warn("Replayed deployment did not succeed",
				"project_id", project.ID,
				"deployment_id", deployment.ID,
				"status", deployment.Status.String(),
				"error", deployment.Error)
		}
	}
	return nil
}
