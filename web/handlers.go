package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/skiff-cd/skiff/coordination"
	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/registry"
	"github.com/skiff-cd/skiff/repository"
	"github.com/skiff-cd/skiff/webhook"
)

// maxWebhookBody caps incoming webhook payloads at 5 MiB.
const maxWebhookBody = 5 << 20

// Deployer triggers deployments; failures are captured in the returned record.
type Deployer interface {
	Deploy(ctx context.Context, projectID string, trigger domain.Trigger) (*domain.Deployment, error)
}

// Handler holds the API's dependencies. The monitor and elector are nil on
// single-machine installs; the fleet endpoint degrades accordingly.
type Handler struct {
	registry registry.Service
	deployer Deployer
	history  repository.DeploymentRepository
	monitor  *coordination.HeartbeatMonitor
	elector  *coordination.Elector
}

func NewHandler(
	reg registry.Service,
	deployer Deployer,
	history repository.DeploymentRepository,
	monitor *coordination.HeartbeatMonitor,
	elector *coordination.Elector,
) *Handler {
	return &Handler{
		registry: reg,
		deployer: deployer,
		history:  history,
		monitor:  monitor,
		elector:  elector,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type projectRequest struct {
	ID            string             `json:"id,omitempty"`
	Name          string             `json:"name"`
	RepoURL       string             `json:"repoUrl,omitempty"`
	Branch        string             `json:"branch,omitempty"`
	EntryFile     string             `json:"entryFile,omitempty"`
	BuildCommand  string             `json:"buildCommand,omitempty"`
	ProcessName   string             `json:"processName,omitempty"`
	WebhookSecret string             `json:"webhookSecret,omitempty"`
	DeployMethod  string             `json:"deployMethod,omitempty"`
	Runner        string             `json:"runner,omitempty"`
	CustomDomains []string           `json:"customDomains,omitempty"`
	Companions    []domain.Companion `json:"companions,omitempty"`
	AllocatePort  bool               `json:"allocatePort,omitempty"`
}

type projectView struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	RepoURL          string             `json:"repoUrl,omitempty"`
	Branch           string             `json:"branch,omitempty"`
	EntryFile        string             `json:"entryFile,omitempty"`
	BuildCommand     string             `json:"buildCommand,omitempty"`
	Port             *int               `json:"port,omitempty"`
	ProcessName      string             `json:"processName,omitempty"`
	DeployMethod     string             `json:"deployMethod"`
	Runner           string             `json:"runner,omitempty"`
	CustomDomains    []string           `json:"customDomains,omitempty"`
	Companions       []domain.Companion `json:"companions,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
	LastDeployAt     *time.Time         `json:"lastDeployAt,omitempty"`
	LastDeployStatus string             `json:"lastDeployStatus,omitempty"`
	LastDeployCommit string             `json:"lastDeployCommit,omitempty"`
	RunningCommit    string             `json:"runningCommit,omitempty"`
}

func toProjectView(p *domain.Project) projectView {
	return projectView{
		ID:               p.ID,
		Name:             p.Name,
		RepoURL:          p.RepoURL,
		Branch:           p.Branch,
		EntryFile:        p.EntryFile,
		BuildCommand:     p.BuildCommand,
		Port:             p.Port,
		ProcessName:      p.ProcessName,
		DeployMethod:     string(p.DeployMethod),
		Runner:           p.Runner,
		CustomDomains:    p.CustomDomains,
		Companions:       p.Companions,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		LastDeployAt:     p.LastDeployAt,
		LastDeployStatus: p.LastDeployStatus,
		LastDeployCommit: p.LastDeployCommit,
		RunningCommit:    p.RunningCommit,
	}
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.registry.List()
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]projectView, len(projects))
	for i, p := range projects {
		views[i] = toProjectView(p)
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	project := &domain.Project{
		ID:            req.ID,
		Name:          req.Name,
		RepoURL:       req.RepoURL,
		Branch:        req.Branch,
		EntryFile:     req.EntryFile,
		BuildCommand:  req.BuildCommand,
		ProcessName:   req.ProcessName,
		WebhookSecret: req.WebhookSecret,
		DeployMethod:  domain.DeployMethod(req.DeployMethod),
		Runner:        req.Runner,
		CustomDomains: req.CustomDomains,
		Companions:    req.Companions,
	}

	if req.AllocatePort {
		port, err := h.registry.AllocatePort()
		if err != nil {
			respondError(w, err)
			return
		}
		project.Port = &port
	}

	created, err := h.registry.Create(r.Context(), project)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toProjectView(created))
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.registry.Get(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProjectView(project))
}

func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.registry.Get(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, err)
		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	if req.Name != "" {
		project.Name = req.Name
	}
	if req.RepoURL != "" {
		project.RepoURL = req.RepoURL
	}
	if req.Branch != "" {
		project.Branch = req.Branch
	}
	if req.EntryFile != "" {
		project.EntryFile = req.EntryFile
	}
	if req.BuildCommand != "" {
		project.BuildCommand = req.BuildCommand
	}
	if req.ProcessName != "" {
		project.ProcessName = req.ProcessName
	}
	if req.WebhookSecret != "" {
		project.WebhookSecret = req.WebhookSecret
	}
	if req.Runner != "" {
		project.Runner = req.Runner
	}
	if req.CustomDomains != nil {
		project.CustomDomains = req.CustomDomains
	}
	if req.Companions != nil {
		project.Companions = req.Companions
	}

	if err := h.registry.Update(project); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProjectView(project))
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(chi.URLParam(r, "projectID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deploymentView struct {
	ID            uuid.UUID        `json:"id"`
	ProjectID     string           `json:"projectId"`
	Status        string           `json:"status"`
	Commit        string           `json:"commit,omitempty"`
	CommitMessage string           `json:"commitMessage,omitempty"`
	Branch        string           `json:"branch,omitempty"`
	StartedAt     time.Time        `json:"startedAt"`
	FinishedAt    time.Time        `json:"finishedAt"`
	DurationMs    int64            `json:"durationMs"`
	TriggeredBy   string           `json:"triggeredBy"`
	Error         string           `json:"error,omitempty"`
	Logs          []domain.LogLine `json:"logs,omitempty"`
}

func toDeploymentView(d *domain.Deployment) deploymentView {
	return deploymentView{
		ID:            d.ID,
		ProjectID:     d.ProjectID,
		Status:        d.Status.String(),
		Commit:        d.Commit,
		CommitMessage: d.CommitMessage,
		Branch:        d.Branch,
		StartedAt:     d.StartedAt,
		FinishedAt:    d.FinishedAt,
		DurationMs:    d.Duration.Milliseconds(),
		TriggeredBy:   string(d.TriggeredBy),
		Error:         d.Error,
		Logs:          d.Logs,
	}
}

// Deploy runs the pipeline synchronously and reports the finalized record.
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	deployment, err := h.deployer.Deploy(r.Context(), chi.URLParam(r, "projectID"), domain.TriggerManual)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toDeploymentView(deployment))
}

func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := h.registry.Get(projectID); err != nil {
		respondError(w, err)
		return
	}

	deployments, err := h.history.List(projectID, 50)
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]deploymentView, len(deployments))
	for i, d := range deployments {
		views[i] = toDeploymentView(d)
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "deploymentID"))
	if err != nil {
		respondError(w, domain.ValidationError{Field: "deploymentID", Reason: "invalid format"})
		return
	}

	deployment, err := h.history.FindByID(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toDeploymentView(deployment))
}

// Webhook verifies the provider's HMAC signature and triggers a deployment in
// the background, acknowledging the delivery immediately.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	project, err := h.registry.Get(projectID)
	if err != nil {
		respondError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, domain.ValidationError{Field: "body", Reason: "unreadable"})
		return
	}

	if err := webhook.Verify(project.WebhookSecret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		respondError(w, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := h.deployer.Deploy(ctx, projectID, domain.TriggerWebhook); err != nil {
			slog.Error("Webhook-triggered deployment failed to start",
				"project_id", projectID,
				"error", err)
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "deployment triggered"})
}

type fleetView struct {
	Machines []*domain.MachineHeartbeat `json:"machines"`
	Leader   *domain.LeadershipLock     `json:"leader,omitempty"`
}

// Fleet reports all visible machine heartbeats and the current leader.
func (h *Handler) Fleet(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		respondError(w, domain.ErrCoordinationUnavailable)
		return
	}

	machines, err := h.monitor.Fleet(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	view := fleetView{Machines: machines}
	if h.elector != nil {
		if leader, err := h.elector.Leader(r.Context()); err == nil {
			view.Leader = leader
		}
	}
	respondJSON(w, http.StatusOK, view)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var validation domain.ValidationError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrProjectNotFound),
		errors.Is(err, domain.ErrDeploymentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrWebhookAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrCoordinationUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrPortExhausted):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
