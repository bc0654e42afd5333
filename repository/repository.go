// Package repository provides persistence for projects and deployment
// history.
package repository

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/skiff-cd/skiff/db"
	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/encryption"
	"gorm.io/gorm"
)

type ProjectRepository interface {
	FindByID(id string) (*domain.Project, error)
	Create(project *domain.Project) (*domain.Project, error)
	Update(project *domain.Project) error
	List() ([]*domain.Project, error)
	Delete(id string) error
}

type projectRepository struct {
	db     *gorm.DB
	mapper *ProjectMapper
}

func (r *projectRepository) List() ([]*domain.Project, error) {
	var models []db.ProjectModel
	if err := r.db.Find(&models).Error; err != nil {
		return nil, err
	}

	projects := make([]*domain.Project, len(models))
	for i, model := range models {
		projects[i] = r.mapper.ToDomain(&model)
	}
	return projects, nil
}

func (r *projectRepository) FindByID(id string) (*domain.Project, error) {
	var m db.ProjectModel
	if err := r.db.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProjectNotFound
		}
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "find_project",
			"project_id", id,
			"error", err)
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *projectRepository) Create(project *domain.Project) (*domain.Project, error) {
	m, err := r.mapper.ToModel(project)
	if err != nil {
		return nil, err
	}
	if res := r.db.Create(m); res.Error != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_project",
			"project_id", project.ID,
			"project_name", project.Name,
			"error", res.Error)
		return nil, res.Error
	}
	return r.mapper.ToDomain(m), nil
}

func (r *projectRepository) Update(project *domain.Project) error {
	m, err := r.mapper.ToModel(project)
	if err != nil {
		return err
	}

	// ID and CreatedAt are immutable after creation. Select("*") ensures
	// cleared fields (empty strings, nil port) still overwrite the row.
	return r.db.Model(&db.ProjectModel{}).
		Where("id = ?", m.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(m).
		Error
}

func (r *projectRepository) Delete(id string) error {
	err := r.db.Where("id = ?", id).Delete(&db.ProjectModel{}).Error
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "delete_project",
			"project_id", id,
			"error", err)
	}
	return err
}

func NewProjectRepository(db *gorm.DB, encryptionSvc *encryption.EncryptionService) ProjectRepository {
	return &projectRepository{
		db:     db,
		mapper: NewProjectMapper(encryptionSvc),
	}
}

type DeploymentRepository interface {
	FindByID(id uuid.UUID) (*domain.Deployment, error)
	Create(deployment *domain.Deployment) error
	// List returns finalized deployments newest-first, optionally filtered by
	// project id, capped at limit when limit > 0.
	List(projectID string, limit int) ([]*domain.Deployment, error)
}

type deploymentRepository struct {
	db     *gorm.DB
	mapper *DeploymentMapper
}

func (r *deploymentRepository) FindByID(id uuid.UUID) (*domain.Deployment, error) {
	var m db.DeploymentModel
	if err := r.db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDeploymentNotFound
		}
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "find_deployment",
			"deployment_id", id,
			"error", err)
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *deploymentRepository) Create(deployment *domain.Deployment) error {
	m, err := r.mapper.ToModel(deployment)
	if err != nil {
		return err
	}
	if err := r.db.Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_deployment",
			"deployment_id", deployment.ID,
			"project_id", deployment.ProjectID,
			"error", err)
		return err
	}
	return nil
}

func (r *deploymentRepository) List(projectID string, limit int) ([]*domain.Deployment, error) {
	query := r.db.Order("started_at DESC")
	if projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []db.DeploymentModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	deployments := make([]*domain.Deployment, len(models))
	for i, m := range models {
		deployments[i] = r.mapper.ToDomain(&m)
	}
	return deployments, nil
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{
		db:     db,
		mapper: &DeploymentMapper{},
	}
}
