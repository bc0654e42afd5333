// Package registry manages project definitions: CRUD, deterministic port
// allocation and best-effort webhook auto-registration.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gosimple/slug"
	"github.com/skiff-cd/skiff/config"
	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/repository"
)

type Service interface {
	Create(ctx context.Context, project *domain.Project) (*domain.Project, error)
	Get(id string) (*domain.Project, error)
	List() ([]*domain.Project, error)
	Update(project *domain.Project) error
	Delete(id string) error
	AllocatePort() (int, error)
}

type service struct {
	projects repository.ProjectRepository
	config   *config.Config
	webhooks *WebhookTask
}

func NewService(projects repository.ProjectRepository, cfg *config.Config, webhooks *WebhookTask) Service {
	return &service{
		projects: projects,
		config:   cfg,
		webhooks: webhooks,
	}
}

// Create validates and persists a new project. The id is derived from the
// name when absent; a duplicate id is rejected without mutating the registry.
// For VCS-backed projects a webhook registration task is kicked off in the
// background; its failure never blocks or fails the create call.
func (s *service) Create(ctx context.Context, project *domain.Project) (*domain.Project, error) {
	if project.Name == "" {
		return nil, domain.ValidationError{Field: "name", Reason: "cannot be empty"}
	}

	if project.ID == "" {
		project.ID = slug.Make(project.Name)
	} else {
		project.ID = slug.Make(project.ID)
	}
	if project.ID == "" {
		return nil, domain.ValidationError{Field: "id", Reason: "cannot be derived from name"}
	}

	if _, err := s.projects.FindByID(project.ID); err == nil {
		return nil, domain.ValidationError{Field: "id", Reason: "already exists: " + project.ID}
	} else if !errors.Is(err, domain.ErrProjectNotFound) {
		return nil, err
	}

	if project.DeployMethod == "" {
		if project.RepoURL != "" {
			project.DeployMethod = domain.DeployMethodVCS
		} else {
			project.DeployMethod = domain.DeployMethodManual
		}
	}
	if _, err := domain.ParseDeployMethod(string(project.DeployMethod)); err != nil {
		return nil, domain.ValidationError{Field: "deployMethod", Reason: err.Error()}
	}
	if project.IsVCS() && project.Branch == "" {
		project.Branch = "main"
	}

	if project.Directory == "" {
		project.Directory = filepath.Join(s.config.WorkspaceDir, project.ID)
	}

	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	created, err := s.projects.Create(project)
	if err != nil {
		return nil, err
	}

	slog.Info("Project created",
		"layer", "service",
		"operation", "create_project",
		"project_id", created.ID,
		"deploy_method", created.DeployMethod)

	if created.IsVCS() && s.webhooks != nil {
		s.webhooks.Enqueue(created)
	}

	return created, nil
}

func (s *service) Get(id string) (*domain.Project, error) {
	return s.projects.FindByID(id)
}

func (s *service) List() ([]*domain.Project, error) {
	return s.projects.List()
}

// Update persists changes to an existing project. The id and creation time
// are immutable; the repository enforces that on write.
func (s *service) Update(project *domain.Project) error {
	existing, err := s.projects.FindByID(project.ID)
	if err != nil {
		return err
	}

	project.CreatedAt = existing.CreatedAt
	project.UpdatedAt = time.Now().UTC()
	return s.projects.Update(project)
}

func (s *service) Delete(id string) error {
	if _, err := s.projects.FindByID(id); err != nil {
		return err
	}
	return s.projects.Delete(id)
}
