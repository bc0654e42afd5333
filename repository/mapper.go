package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skiff-cd/skiff/db"
	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/encryption"
)

// ProjectMapper converts between domain projects and database models,
// encrypting the webhook secret on the way in and decrypting it on the way
// out.
type ProjectMapper struct {
	encryption *encryption.EncryptionService
}

func NewProjectMapper(encryptionSvc *encryption.EncryptionService) *ProjectMapper {
	return &ProjectMapper{encryption: encryptionSvc}
}

func (m *ProjectMapper) ToModel(p *domain.Project) (*db.ProjectModel, error) {
	companions := ""
	if len(p.Companions) > 0 {
		data, err := json.Marshal(p.Companions)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize companions: %w", err)
		}
		companions = string(data)
	}

	var webhookSecret *string
	if p.WebhookSecret != "" {
		encrypted, err := m.encryption.Encrypt(p.WebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt webhook secret: %w", err)
		}
		webhookSecret = &encrypted
	}

	return &db.ProjectModel{
		ID:               p.ID,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		Name:             p.Name,
		RepoURL:          p.RepoURL,
		Branch:           p.Branch,
		Directory:        p.Directory,
		EntryFile:        p.EntryFile,
		BuildCommand:     p.BuildCommand,
		Port:             p.Port,
		ProcessName:      p.ProcessName,
		WebhookSecret:    webhookSecret,
		DeployMethod:     string(p.DeployMethod),
		Companions:       companions,
		CustomDomains:    strings.Join(p.CustomDomains, ","),
		Runner:           p.Runner,
		LastDeployAt:     p.LastDeployAt,
		LastDeployStatus: p.LastDeployStatus,
		LastDeployCommit: p.LastDeployCommit,
		RunningCommit:    p.RunningCommit,
	}, nil
}

func (m *ProjectMapper) ToDomain(model *db.ProjectModel) *domain.Project {
	var companions []domain.Companion
	if model.Companions != "" {
		if err := json.Unmarshal([]byte(model.Companions), &companions); err != nil {
			slog.Error("Failed to deserialize companions",
				"layer", "repository",
				"project_id", model.ID,
				"error", err)
		}
	}

	webhookSecret := ""
	if model.WebhookSecret != nil {
		decrypted, err := m.encryption.Decrypt(*model.WebhookSecret)
		if err != nil {
			slog.Error("Failed to decrypt webhook secret",
				"layer", "repository",
				"project_id", model.ID,
				"error", err)
		} else {
			webhookSecret = decrypted
		}
	}

	var customDomains []string
	if model.CustomDomains != "" {
		customDomains = strings.Split(model.CustomDomains, ",")
	}

	return &domain.Project{
		ID:               model.ID,
		Name:             model.Name,
		RepoURL:          model.RepoURL,
		Branch:           model.Branch,
		Directory:        model.Directory,
		EntryFile:        model.EntryFile,
		BuildCommand:     model.BuildCommand,
		Port:             model.Port,
		ProcessName:      model.ProcessName,
		WebhookSecret:    webhookSecret,
		DeployMethod:     domain.DeployMethod(model.DeployMethod),
		Companions:       companions,
		CustomDomains:    customDomains,
		Runner:           model.Runner,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
		LastDeployAt:     model.LastDeployAt,
		LastDeployStatus: model.LastDeployStatus,
		LastDeployCommit: model.LastDeployCommit,
		RunningCommit:    model.RunningCommit,
	}
}

// DeploymentMapper converts between domain deployments and database models.
type DeploymentMapper struct{}

func (m *DeploymentMapper) ToModel(d *domain.Deployment) (*db.DeploymentModel, error) {
	logs := ""
	if len(d.Logs) > 0 {
		data, err := json.Marshal(d.Logs)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize deployment logs: %w", err)
		}
		logs = string(data)
	}

	return &db.DeploymentModel{
		ID:            d.ID,
		ProjectID:     d.ProjectID,
		Status:        d.Status.String(),
		CommitHash:    d.Commit,
		CommitMessage: d.CommitMessage,
		Branch:        d.Branch,
		StartedAt:     d.StartedAt,
		FinishedAt:    d.FinishedAt,
		DurationMs:    d.Duration.Milliseconds(),
		Logs:          logs,
		TriggeredBy:   string(d.TriggeredBy),
		Error:         d.Error,
	}, nil
}

func (m *DeploymentMapper) ToDomain(model *db.DeploymentModel) *domain.Deployment {
	var logs []domain.LogLine
	if model.Logs != "" {
		if err := json.Unmarshal([]byte(model.Logs), &logs); err != nil {
			slog.Error("Failed to deserialize deployment logs",
				"layer", "repository",
				"deployment_id", model.ID,
				"error", err)
		}
	}

	status, err := domain.ParseDeploymentStatus(model.Status)
	if err != nil {
		slog.Error("Invalid deployment status in database",
			"layer", "repository",
			"deployment_id", model.ID,
			"status", model.Status)
	}

	return &domain.Deployment{
		ID:            model.ID,
		ProjectID:     model.ProjectID,
		Status:        status,
		Commit:        model.CommitHash,
		CommitMessage: model.CommitMessage,
		Branch:        model.Branch,
		StartedAt:     model.StartedAt,
		FinishedAt:    model.FinishedAt,
		Duration:      time.Duration(model.DurationMs) * time.Millisecond,
		Logs:          logs,
		TriggeredBy:   domain.Trigger(model.TriggeredBy),
		Error:         model.Error,
	}
}
