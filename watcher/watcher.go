// Package watcher runs the background schedulers: the remote-commit poller
// and the fleet deploy-sync poller.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/git"
	"github.com/skiff-cd/skiff/registry"
)

// Deployer triggers deployments; failures are captured in the returned record.
type Deployer interface {
	Deploy(ctx context.Context, projectID string, trigger domain.Trigger) (*domain.Deployment, error)
}

// PollWatcher periodically compares each VCS project's remote branch tip
// against its running commit and deploys on mismatch.
type PollWatcher struct {
	registry     registry.Service
	gitService   git.Service
	deployer     Deployer
	pollInterval time.Duration
	initialDelay time.Duration
}

func NewPollWatcher(
	reg registry.Service,
	gitService git.Service,
	deployer Deployer,
	pollInterval time.Duration,
	initialDelay time.Duration,
) *PollWatcher {
	return &PollWatcher{
		registry:     reg,
		gitService:   gitService,
		deployer:     deployer,
		pollInterval: pollInterval,
		initialDelay: initialDelay,
	}
}

func (w *PollWatcher) Start(ctx context.Context) error {
	slog.Info("Poll watcher starting",
		"poll_interval", w.pollInterval,
		"initial_delay", w.initialDelay)

	// The initial delay keeps startup quiet: the supervisor and ingress come
	// up first, then the first poll cycle runs.
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(w.initialDelay):
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	if err := w.checkAllProjects(ctx); err != nil {
		slog.Error("Initial poll cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Poll watcher shutting down")
			return nil
		case <-ticker.C:
			if err := w.checkAllProjects(ctx); err != nil {
				slog.Error("Poll cycle failed", "error", err)
			}
		}
	}
}

func (w *PollWatcher) checkAllProjects(ctx context.Context) error {
	slog.Debug("Starting poll cycle")

	projects, err := w.registry.List()
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	checked := 0
	for _, project := range projects {
		if !project.IsVCS() {
			continue
		}
		checked++
		if err := w.checkProject(ctx, project); err != nil {
			slog.Error("Failed to check project",
				"project_id", project.ID,
				"project_name", project.Name,
				"error", err)
		}
	}

	slog.Debug("Poll cycle completed",
		"total_projects", len(projects),
		"projects_checked", checked)
	return nil
}

func (w *PollWatcher) checkProject(ctx context.Context, project *domain.Project) error {
	remoteCommit, err := w.gitService.RemoteShortHead(ctx, project.RepoURL, project.Branch)
	if err != nil {
		return fmt.Errorf("failed to resolve remote branch tip: %w", err)
	}

	slog.Debug("Remote check completed",
		"project_id", project.ID,
		"running_commit", project.RunningCommit,
		"remote_commit", remoteCommit)

	if remoteCommit == project.RunningCommit {
		return nil
	}

	slog.Info("New commit detected, triggering deployment",
		"project_id", project.ID,
		"project_name", project.Name,
		"running_commit", project.RunningCommit,
		"remote_commit", remoteCommit)

	deployment, err := w.deployer.Deploy(ctx, project.ID, domain.TriggerPoll)
	if err != nil {
		return fmt.Errorf("failed to deploy project: %w", err)
	}
	if deployment.Status != domain.DeploymentStatusSuccess {
		slog.Warn("Automatic deployment did not succeed",
			"project_id", project.ID,
			"deployment_id", deployment.ID,
			"status", deployment.Status.String(),
			"error", deployment.Error)
	}
	return nil
}
