package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/skiff-cd/skiff/domain"
)

// WebhookRegistrar registers a push webhook for a project with its hosting
// provider.
type WebhookRegistrar interface {
	Register(ctx context.Context, project *domain.Project) error
}

// RegistrationState tracks a webhook registration attempt.
type RegistrationState string

const (
	RegistrationPending   RegistrationState = "pending"
	RegistrationSucceeded RegistrationState = "succeeded"
	RegistrationFailed    RegistrationState = "failed"
)

// RegistrationStatus is the observable outcome of a registration task.
type RegistrationStatus struct {
	State     RegistrationState
	Attempts  int
	Error     string
	UpdatedAt time.Time
}

// WebhookTask runs webhook registrations in the background with bounded
// retries. Failures are recorded and logged, never surfaced to the caller
// that created the project.
type WebhookTask struct {
	registrar WebhookRegistrar
	retries   uint64
	delay     time.Duration

	mu       sync.Mutex
	statuses map[string]RegistrationStatus
	wg       sync.WaitGroup
}

func NewWebhookTask(registrar WebhookRegistrar) *WebhookTask {
	return &WebhookTask{
		registrar: registrar,
		retries:   3,
		delay:     5 * time.Second,
		statuses:  map[string]RegistrationStatus{},
	}
}

// Enqueue starts a background registration for the project and returns
// immediately.
func (t *WebhookTask) Enqueue(project *domain.Project) {
	if t.registrar == nil {
		return
	}

	t.setStatus(project.ID, RegistrationStatus{State: RegistrationPending, UpdatedAt: time.Now().UTC()})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(project)
	}()
}

// Status returns the recorded registration outcome for a project.
func (t *WebhookTask) Status(projectID string) (RegistrationStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.statuses[projectID]
	return status, ok
}

// Wait blocks until all enqueued registrations have finished.
func (t *WebhookTask) Wait() {
	t.wg.Wait()
}

func (t *WebhookTask) run(project *domain.Project) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	attempts := 0
	backoff := retry.WithMaxRetries(t.retries, retry.NewConstant(t.delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := t.registrar.Register(ctx, project); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})

	status := RegistrationStatus{State: RegistrationSucceeded, Attempts: attempts, UpdatedAt: time.Now().UTC()}
	if err != nil {
		status.State = RegistrationFailed
		status.Error = err.Error()
		slog.Warn("Webhook registration failed",
			"layer", "service",
			"operation", "register_webhook",
			"project_id", project.ID,
			"attempts", attempts,
			"error", err)
	} else {
		slog.Info("Webhook registered",
			"project_id", project.ID,
			"attempts", attempts)
	}
	t.setStatus(project.ID, status)
}

func (t *WebhookTask) setStatus(projectID string, status RegistrationStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[projectID] = status
}

// githubRepoPattern extracts owner/repo from HTTPS and SSH GitHub remotes.
var githubRepoPattern = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/.]+)`)

// GitHubRegistrar registers push webhooks through the GitHub REST API.
type GitHubRegistrar struct {
	Token       string
	CallbackURL string
	Client      *http.Client
}

func NewGitHubRegistrar(token, callbackURL string) *GitHubRegistrar {
	return &GitHubRegistrar{
		Token:       token,
		CallbackURL: callbackURL,
		Client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *GitHubRegistrar) Register(ctx context.Context, project *domain.Project) error {
	match := githubRepoPattern.FindStringSubmatch(project.RepoURL)
	if match == nil {
		return fmt.Errorf("repo url %q is not a recognized GitHub remote", project.RepoURL)
	}
	owner, repo := match[1], match[2]

	payload := map[string]any{
		"name":   "web",
		"active": true,
		"events": []string{"push"},
		"config": map[string]string{
			"url":          fmt.Sprintf("%s/webhooks/%s", r.CallbackURL, project.ID),
			"content_type": "json",
			"secret":       project.WebhookSecret,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/hooks", owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return nil
	case http.StatusUnprocessableEntity:
		// GitHub answers 422 when an identical hook already exists.
		return nil
	default:
		return fmt.Errorf("github hook creation returned HTTP %d", resp.StatusCode)
	}
}
