// Package deploy implements the deployment engine: a sequential multi-stage
// pipeline that provisions a project's workspace, builds it, starts it under
// the process supervisor, health-checks it and wires up ingress.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/skiff-cd/skiff/config"
	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/git"
	"github.com/skiff-cd/skiff/repository"
	"github.com/skiff-cd/skiff/supervisor"
)

// IngressApplier upserts the hostname→port routing for a deployed project.
type IngressApplier interface {
	Apply(ctx context.Context, hostname string, port int) error
}

// SyncPublisher announces a successful deploy to the rest of the fleet.
type SyncPublisher interface {
	Publish(ctx context.Context, projectID, commit string, trigger domain.Trigger) error
}

// Deployer runs the deployment pipeline for one project at a time per call.
// There is deliberately no per-project mutex: concurrent triggers on the same
// project can interleave, matching the single-process cooperative model.
type Deployer struct {
	projects   repository.ProjectRepository
	history    repository.DeploymentRepository
	git        git.Service
	supervisor supervisor.Supervisor
	ingress    IngressApplier
	sync       SyncPublisher
	config     *config.Config

	// sharedEnv is injected into every started process on top of the
	// project's own .env file.
	sharedEnv map[string]string

	// onComplete is emitted after every finalized deployment.
	onComplete func(*domain.Deployment)
}

func NewDeployer(
	projects repository.ProjectRepository,
	history repository.DeploymentRepository,
	gitService git.Service,
	sup supervisor.Supervisor,
	ingress IngressApplier,
	sync SyncPublisher,
	cfg *config.Config,
) *Deployer {
	return &Deployer{
		projects:   projects,
		history:    history,
		git:        gitService,
		supervisor: sup,
		ingress:    ingress,
		sync:       sync,
		config:     cfg,
		sharedEnv:  map[string]string{},
		onComplete: func(*domain.Deployment) {},
	}
}

// SetSharedEnv replaces the secrets injected into every deployed process.
func (d *Deployer) SetSharedEnv(env map[string]string) {
	if env == nil {
		env = map[string]string{}
	}
	d.sharedEnv = env
}

// OnComplete registers the completion event handler.
func (d *Deployer) OnComplete(fn func(*domain.Deployment)) {
	if fn != nil {
		d.onComplete = fn
	}
}

// Deploy runs the full pipeline for a project. It returns an error only when
// the project cannot be loaded; every pipeline failure is captured in the
// returned Deployment record, so callers only need to branch on its status.
func (d *Deployer) Deploy(ctx context.Context, projectID string, trigger domain.Trigger) (*domain.Deployment, error) {
	project, err := d.projects.FindByID(projectID)
	if err != nil {
		return nil, fmt.Errorf("project not found: %w", err)
	}

	deployment := domain.NewDeployment(project.ID, trigger)
	deployment.Branch = project.Branch
	deployment.Log("deployment started (trigger: %s)", trigger)

	slog.Info("Deployment started",
		"project_id", project.ID,
		"project_name", project.Name,
		"deployment_id", deployment.ID,
		"trigger", trigger)

	pipelineErr := d.runPipeline(ctx, project, deployment)
	deployment.Finalize(pipelineErr)

	d.finalize(ctx, project, deployment)
	return deployment, nil
}

// runPipeline executes the ordered stages. The first failing stage aborts
// everything after it; no stage is retried within a single call.
func (d *Deployer) runPipeline(ctx context.Context, project *domain.Project, deployment *domain.Deployment) error {
	if err := d.provisionWorkspace(ctx, project, deployment); err != nil {
		return fmt.Errorf("workspace provisioning failed: %w", err)
	}

	if err := d.installDependencies(ctx, project, deployment); err != nil {
		return fmt.Errorf("dependency installation failed: %w", err)
	}

	if err := d.installNestedDependencies(ctx, project, deployment); err != nil {
		return fmt.Errorf("nested dependency installation failed: %w", err)
	}

	if err := d.build(ctx, project, deployment); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	start, err := d.resolveRuntime(project, deployment)
	if err != nil {
		return fmt.Errorf("runtime resolution failed: %w", err)
	}

	if err := d.startProcess(ctx, project, deployment, start); err != nil {
		return fmt.Errorf("process start failed: %w", err)
	}

	if err := d.healthCheck(ctx, project, deployment); err != nil {
		return err
	}

	if err := d.startCompanions(ctx, project, deployment); err != nil {
		return fmt.Errorf("companion start failed: %w", err)
	}

	if err := d.applyIngress(ctx, project, deployment); err != nil {
		return fmt.Errorf("ingress setup failed: %w", err)
	}

	return nil
}

// provisionWorkspace is stage 1: clone or fetch+reset for VCS projects,
// plain directory creation otherwise. Captures the short commit hash and the
// latest commit message.
func (d *Deployer) provisionWorkspace(ctx context.Context, project *domain.Project, deployment *domain.Deployment) error {
	if !project.IsVCS() {
		if err := os.MkdirAll(project.Directory, 0o755); err != nil {
			return err
		}
		deployment.Log("workspace ready at %s", project.Directory)
		return nil
	}

	if _, err := os.Stat(project.Directory); os.IsNotExist(err) {
		deployment.Log("cloning %s (branch %s)", project.RepoURL, project.Branch)
		if err := d.git.Clone(ctx, project.RepoURL, project.Branch, project.Directory); err != nil {
			return err
		}
	} else {
		deployment.Log("fetching %s and resetting to branch tip", project.Branch)
		if err := d.git.Fetch(ctx, project.Branch, project.Directory); err != nil {
			return err
		}
		if err := d.git.HardReset(project.Branch, project.Directory); err != nil {
			return err
		}
	}

	commit, err := d.git.ShortHead(project.Directory)
	if err != nil {
		return fmt.Errorf("failed to read HEAD: %w", err)
	}
	deployment.Commit = commit

	if message, err := d.git.HeadCommitMessage(project.Directory); err == nil {
		deployment.CommitMessage = message
	}

	deployment.Log("at commit %s: %s", deployment.Commit, deployment.CommitMessage)
	return nil
}

// startProcess is stage 6: tear down any previous instances and start the
// new one with the assembled environment.
func (d *Deployer) startProcess(ctx context.Context, project *domain.Project, deployment *domain.Deployment, start *StartPlan) error {
	names := []string{project.SupervisorName()}
	for _, companion := range project.Companions {
		names = append(names, project.CompanionName(companion))
	}

	for _, name := range names {
		if err := d.supervisor.Stop(ctx, name); err != nil {
			return err
		}
		if err := d.supervisor.Delete(ctx, name); err != nil {
			return err
		}
	}
	deployment.Log("previous instances removed")

	env := d.buildEnv(project, deployment)

	if err := d.supervisor.Start(ctx, supervisor.StartSpec{
		Name:    project.SupervisorName(),
		Command: start.Command,
		Args:    start.Args,
		Cwd:     project.Directory,
		Env:     env,
	}); err != nil {
		return err
	}

	deployment.Log("process %s started (%s)", project.SupervisorName(), start.Describe())
	return nil
}

// buildEnv assembles the process environment: the project's .env file first,
// shared secrets on top, and the allocated port last.
func (d *Deployer) buildEnv(project *domain.Project, deployment *domain.Deployment) map[string]string {
	env := map[string]string{}

	fileEnv, err := ParseEnvFile(project.EnvFilePath())
	if err != nil {
		deployment.Log("no .env file loaded: %v", err)
	} else if len(fileEnv) > 0 {
		deployment.Log("loaded %d variables from .env", len(fileEnv))
	}
	for k, v := range fileEnv {
		env[k] = v
	}

	for k, v := range d.sharedEnv {
		env[k] = v
	}

	if project.Port != nil {
		env["PORT"] = fmt.Sprintf("%d", *project.Port)
	}
	return env
}

// startCompanions is stage 8: companion processes start sequentially after
// the main process, each under its own supervised name and optional delay.
func (d *Deployer) startCompanions(ctx context.Context, project *domain.Project, deployment *domain.Deployment) error {
	for _, companion := range project.Companions {
		if companion.StartDelay > 0 {
			deployment.Log("waiting %s before starting companion %s", companion.StartDelay, companion.Name)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(companion.StartDelay):
			}
		}

		cwd := companion.Cwd
		if cwd == "" {
			cwd = project.Directory
		}

		name := project.CompanionName(companion)
		if err := d.supervisor.Start(ctx, supervisor.StartSpec{
			Name:    name,
			Command: companion.Command,
			Args:    companion.Args,
			Cwd:     cwd,
			Env:     d.sharedEnv,
		}); err != nil {
			return fmt.Errorf("companion %s: %w", companion.Name, err)
		}
		deployment.Log("companion %s started", name)
	}
	return nil
}

// applyIngress is stage 9: route the project's hostname(s) at its port.
func (d *Deployer) applyIngress(ctx context.Context, project *domain.Project, deployment *domain.Deployment) error {
	if project.Port == nil || d.config.BaseDomain == "" {
		return nil
	}

	hostnames := []string{fmt.Sprintf("%s.%s", project.ID, d.config.BaseDomain)}
	hostnames = append(hostnames, project.CustomDomains...)

	for _, hostname := range hostnames {
		if err := d.ingress.Apply(ctx, hostname, *project.Port); err != nil {
			return err
		}
		deployment.Log("ingress routed %s -> :%d", hostname, *project.Port)
	}
	return nil
}

// finalize is stage 10: persist the record and the project's deploy fields,
// emit the completion event, and publish the sync record on success.
func (d *Deployer) finalize(ctx context.Context, project *domain.Project, deployment *domain.Deployment) {
	if err := d.history.Create(deployment); err != nil {
		slog.Error("Failed to persist deployment record",
			"layer", "service",
			"operation", "deploy_finalize",
			"deployment_id", deployment.ID,
			"project_id", project.ID,
			"error", err)
	}

	now := deployment.FinishedAt
	project.LastDeployAt = &now
	project.LastDeployStatus = deployment.Status.String()
	project.LastDeployCommit = deployment.Commit
	if deployment.Status == domain.DeploymentStatusSuccess {
		project.RunningCommit = deployment.Commit
	}

	if err := d.projects.Update(project); err != nil {
		slog.Error("Failed to update project after deployment",
			"layer", "service",
			"operation", "deploy_finalize",
			"project_id", project.ID,
			"error", err)
	}

	slog.Info("Deployment finished",
		"project_id", project.ID,
		"deployment_id", deployment.ID,
		"status", deployment.Status.String(),
		"commit", deployment.Commit,
		"duration", deployment.Duration.Round(time.Millisecond))

	d.onComplete(deployment)

	if deployment.Status == domain.DeploymentStatusSuccess {
		if err := d.sync.Publish(ctx, project.ID, deployment.Commit, deployment.TriggeredBy); err != nil {
			slog.Warn("Failed to publish deploy sync record",
				"project_id", project.ID,
				"error", err)
		}
	}
}
