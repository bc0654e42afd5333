package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DeploymentStatus int

const (
	DeploymentStatusBuilding DeploymentStatus = iota
	DeploymentStatusSuccess
	DeploymentStatusFailed
)

func (s DeploymentStatus) String() string {
	switch s {
	case DeploymentStatusBuilding:
		return "building"
	case DeploymentStatusSuccess:
		return "success"
	case DeploymentStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func ParseDeploymentStatus(s string) (DeploymentStatus, error) {
	switch s {
	case "building":
		return DeploymentStatusBuilding, nil
	case "success":
		return DeploymentStatusSuccess, nil
	case "failed":
		return DeploymentStatusFailed, nil
	default:
		return DeploymentStatusFailed, fmt.Errorf("invalid deployment status: %q", s)
	}
}

// Trigger identifies what initiated a deployment.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerWebhook Trigger = "webhook"
	TriggerPoll    Trigger = "poll"
)

// SyncTrigger builds the trigger value for a deploy replayed from another
// machine's deploy-sync record.
func SyncTrigger(machineID string) Trigger {
	return Trigger("sync:" + machineID)
}

// IsSync reports whether the trigger originated from deploy sync, and if so
// from which machine.
func (t Trigger) IsSync() (string, bool) {
	rest, ok := strings.CutPrefix(string(t), "sync:")
	if !ok {
		return "", false
	}
	return rest, true
}

// LogLine is a single timestamped line of deployment output.
type LogLine struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Deployment records one attempt to deploy a project. Once finalized it is
// immutable; history is append-only, newest first.
type Deployment struct {
	ID            uuid.UUID
	ProjectID     string
	Status        DeploymentStatus
	Commit        string
	CommitMessage string
	Branch        string
	StartedAt     time.Time
	FinishedAt    time.Time
	Duration      time.Duration
	Logs          []LogLine
	TriggeredBy   Trigger
	Error         string
}

func NewDeployment(projectID string, trigger Trigger) *Deployment {
	return &Deployment{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Status:      DeploymentStatusBuilding,
		StartedAt:   time.Now(),
		TriggeredBy: trigger,
	}
}

// Log appends a timestamped line to the deployment's log.
func (d *Deployment) Log(format string, a ...any) {
	d.Logs = append(d.Logs, LogLine{Time: time.Now(), Message: fmt.Sprintf(format, a...)})
}

// Finalize stamps the terminal status and computes the duration. err may be
// nil only for a successful deployment.
func (d *Deployment) Finalize(err error) {
	d.FinishedAt = time.Now()
	d.Duration = d.FinishedAt.Sub(d.StartedAt)
	if err != nil {
		d.Status = DeploymentStatusFailed
		d.Error = err.Error()
		d.Log("deployment failed: %v", err)
	} else {
		d.Status = DeploymentStatusSuccess
		d.Log("deployment completed in %s", d.Duration.Round(time.Millisecond))
	}
}
