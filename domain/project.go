// Package domain defines the core types for Skiff: projects, deployments,
// and the coordination records shared across the fleet.
package domain

import (
	"fmt"
	"path/filepath"
	"time"
)

// DeployMethod describes how a project's code reaches the machine.
type DeployMethod string

const (
	DeployMethodManual DeployMethod = "manual"
	DeployMethodVCS    DeployMethod = "vcs"
	DeployMethodUpload DeployMethod = "upload"
)

func ParseDeployMethod(s string) (DeployMethod, error) {
	switch DeployMethod(s) {
	case DeployMethodManual, DeployMethodVCS, DeployMethodUpload:
		return DeployMethod(s), nil
	default:
		return "", fmt.Errorf("invalid deploy method: %q", s)
	}
}

// Companion is an auxiliary process started alongside a project's main
// process, under its own supervised name.
type Companion struct {
	Name       string        `json:"name"`
	Command    string        `json:"command"`
	Args       []string      `json:"args,omitempty"`
	Cwd        string        `json:"cwd,omitempty"`
	StartDelay time.Duration `json:"startDelay,omitempty"`
}

// Project is a deployable unit managed by the registry. ID and CreatedAt are
// immutable after creation.
type Project struct {
	ID            string
	Name          string
	RepoURL       string
	Branch        string
	Directory     string
	EntryFile     string
	BuildCommand  string
	Port          *int
	ProcessName   string
	WebhookSecret string
	DeployMethod  DeployMethod
	Companions    []Companion
	CustomDomains []string
	Runner        string

	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastDeployAt     *time.Time
	LastDeployStatus string
	LastDeployCommit string
	// RunningCommit is only advanced by a successful deployment.
	RunningCommit string
}

// SupervisorName returns the name the project's main process runs under.
func (p *Project) SupervisorName() string {
	if p.ProcessName != "" {
		return p.ProcessName
	}
	return p.ID
}

// CompanionName returns the supervised name for one of the project's
// companion processes.
func (p *Project) CompanionName(c Companion) string {
	return fmt.Sprintf("%s-%s", p.SupervisorName(), c.Name)
}

// EnvFilePath returns the path of the project's .env file.
func (p *Project) EnvFilePath() string {
	return filepath.Join(p.Directory, ".env")
}

// IsVCS reports whether the project is backed by a remote repository.
func (p *Project) IsVCS() bool {
	return p.DeployMethod == DeployMethodVCS && p.RepoURL != ""
}
