// Package db provides database models and utilities for Skiff.
package db

import (
	"time"

	"github.com/google/uuid"
)

type ProjectModel struct {
	ID        string `gorm:"primaryKey;check:id <> ''"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name          string `gorm:"not null;check:name <> ''"`
	RepoURL       string
	Branch        string
	Directory     string `gorm:"not null;check:directory <> ''"`
	EntryFile     string
	BuildCommand  string
	Port          *int    `gorm:"unique"`
	ProcessName   string
	WebhookSecret *string `gorm:"type:text"` // encrypted at rest
	DeployMethod  string  `gorm:"not null;check:deploy_method <> ''"`
	Companions    string  `gorm:"type:text"` // JSON list
	CustomDomains string  // comma-separated
	Runner        string

	LastDeployAt     *time.Time
	LastDeployStatus string
	LastDeployCommit string
	RunningCommit    string

	Deployments []DeploymentModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (ProjectModel) TableName() string {
	return "projects"
}

type DeploymentModel struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ProjectID     string `gorm:"not null;index"`
	Status        string `gorm:"not null;check:status <> ''"` // success, failed
	CommitHash    string
	CommitMessage string
	Branch        string
	StartedAt     time.Time
	FinishedAt    time.Time
	DurationMs    int64
	Logs          string `gorm:"type:text"` // JSON list of timestamped lines
	TriggeredBy   string `gorm:"not null"`
	Error         string `gorm:"type:text"`

	Project ProjectModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (DeploymentModel) TableName() string {
	return "deployments"
}
