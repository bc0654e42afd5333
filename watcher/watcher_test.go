package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skiff-cd/skiff/coordination"
	"github.com/skiff-cd/skiff/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	projects []*domain.Project
}

func (r *fakeRegistry) Create(ctx context.Context, project *domain.Project) (*domain.Project, error) {
	return project, nil
}

func (r *fakeRegistry) Get(id string) (*domain.Project, error) {
	for _, p := range r.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, domain.ErrProjectNotFound
}

func (r *fakeRegistry) List() ([]*domain.Project, error)     { return r.projects, nil }
func (r *fakeRegistry) Update(project *domain.Project) error { return nil }
func (r *fakeRegistry) Delete(id string) error               { return nil }
func (r *fakeRegistry) AllocatePort() (int, error)           { return 3001, nil }

type deployCall struct {
	projectID string
	trigger   domain.Trigger
}

type fakeDeployer struct {
	calls  []deployCall
	status domain.DeploymentStatus
	err    error
}

func (d *fakeDeployer) Deploy(ctx context.Context, projectID string, trigger domain.Trigger) (*domain.Deployment, error) {
	d.calls = append(d.calls, deployCall{projectID: projectID, trigger: trigger})
	if d.err != nil {
		return nil, d.err
	}
	deployment := domain.NewDeployment(projectID, trigger)
	deployment.Status = d.status
	return deployment, nil
}

type fakeGit struct {
	remoteHeads map[string]string
}

func (g *fakeGit) Clone(ctx context.Context, repoURL, branch, workingDir string) error { return nil }
func (g *fakeGit) Fetch(ctx context.Context, branch, workingDir string) error          { return nil }
func (g *fakeGit) HardReset(branch, workingDir string) error                           { return nil }
func (g *fakeGit) ShortHead(workingDir string) (string, error)                         { return "", nil }
func (g *fakeGit) HeadCommitMessage(workingDir string) (string, error)                 { return "", nil }
func (g *fakeGit) CurrentBranch(workingDir string) (string, error)                     { return "main", nil }

func (g *fakeGit) RemoteShortHead(ctx context.Context, repoURL, branch string) (string, error) {
	head, ok := g.remoteHeads[repoURL]
	if !ok {
		return "", errors.New("remote unreachable")
	}
	return head, nil
}

// kvStore is a minimal coordination.Store for sync watcher tests.
type kvStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newKVStore() *kvStore { return &kvStore{values: map[string]string{}} }

func (s *kvStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", coordination.ErrKeyNotFound
	}
	return value, nil
}

func (s *kvStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *kvStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}

func (s *kvStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (s *kvStore) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return nil
}

func (s *kvStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (s *kvStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (s *kvStore) Available() bool { return true }
func (s *kvStore) Close() error    { return nil }

func vcsProject(id, repoURL, runningCommit string) *domain.Project {
	return &domain.Project{
		ID:            id,
		Name:          id,
		RepoURL:       repoURL,
		Branch:        "main",
		DeployMethod:  domain.DeployMethodVCS,
		RunningCommit: runningCommit,
	}
}

func TestPollWatcherDeploysOnNewCommit(t *testing.T) {
	reg := &fakeRegistry{projects: []*domain.Project{
		vcsProject("api", "https://github.com/acme/api.git", "abc1234"),
	}}
	gitSvc := &fakeGit{remoteHeads: map[string]string{
		"https://github.com/acme/api.git": "def5678",
	}}
	deployer := &fakeDeployer{status: domain.DeploymentStatusSuccess}

	w := NewPollWatcher(reg, gitSvc, deployer, time.Minute, 0)
	require.NoError(t, w.checkAllProjects(context.Background()))

	require.Len(t, deployer.calls, 1)
	assert.Equal(t, deployCall{projectID: "api", trigger: domain.TriggerPoll}, deployer.calls[0])
}

func TestPollWatcherSkipsUpToDateProject(t *testing.T) {
	reg := &fakeRegistry{projects: []*domain.Project{
		vcsProject("api", "https://github.com/acme/api.git", "abc1234"),
	}}
	gitSvc := &fakeGit{remoteHeads: map[string]string{
		"https://github.com/acme/api.git": "abc1234",
	}}
	deployer := &fakeDeployer{status: domain.DeploymentStatusSuccess}

	w := NewPollWatcher(reg, gitSvc, deployer, time.Minute, 0)
	require.NoError(t, w.checkAllProjects(context.Background()))
	assert.Empty(t, deployer.calls)
}

func TestPollWatcherSkipsNonVCSProjects(t *testing.T) {
	reg := &fakeRegistry{projects: []*domain.Project{
		{ID: "static", Name: "static", DeployMethod: domain.DeployMethodManual},
	}}
	deployer := &fakeDeployer{status: domain.DeploymentStatusSuccess}

	w := NewPollWatcher(reg, &fakeGit{}, deployer, time.Minute, 0)
	require.NoError(t, w.checkAllProjects(context.Background()))
	assert.Empty(t, deployer.calls)
}

func TestPollWatcherContinuesPastUnreachableRemote(t *testing.T) {
	reg := &fakeRegistry{projects: []*domain.Project{
		vcsProject("broken", "https://github.com/acme/broken.git", "abc1234"),
		vcsProject("api", "https://github.com/acme/api.git", "abc1234"),
	}}
	gitSvc := &fakeGit{remoteHeads: map[string]string{
		"https://github.com/acme/api.git": "def5678",
	}}
	deployer := &fakeDeployer{status: domain.DeploymentStatusSuccess}

	w := NewPollWatcher(reg, gitSvc, deployer, time.Minute, 0)
	require.NoError(t, w.checkAllProjects(context.Background()))

	require.Len(t, deployer.calls, 1)
	assert.Equal(t, "api", deployer.calls[0].projectID)
}

func TestSyncWatcherReplaysFleetDeployment(t *testing.T) {
	store := newKVStore()

	// machine-b announces a deploy of api at def5678.
	remote := coordination.NewDeploySync(store, "machine-b", 10*time.Minute)
	require.NoError(t, remote.Publish(context.Background(), "api", "def5678", domain.TriggerManual))

	reg := &fakeRegistry{projects: []*domain.Project{
		vcsProject("api", "https://github.com/acme/api.git", "abc1234"),
	}}
	deployer := &fakeDeployer{status: domain.DeploymentStatusSuccess}
	local := coordination.NewDeploySync(store, "machine-a", 10*time.Minute)

	w := NewSyncWatcher(reg, local, deployer, time.Minute)
	require.NoError(t, w.Tick(context.Background()))

	require.Len(t, deployer.calls, 1)
	assert.Equal(t, "api", deployer.calls[0].projectID)
	assert.Equal(t, domain.SyncTrigger("machine-b"), deployer.calls[0].trigger)
}

func TestSyncWatcherIgnoresOwnRecords(t *testing.T) {
	store := newKVStore()
	local := coordination.NewDeploySync(store, "machine-a", 10*time.Minute)
	require.NoError(t, local.Publish(context.Background(), "api", "def5678", domain.TriggerManual))

	reg := &fakeRegistry{projects: []*domain.Project{
		vcsProject("api", "https://github.com/acme/api.git", "abc1234"),
	}}
	deployer := &fakeDeployer{status: domain.DeploymentStatusSuccess}

	w := NewSyncWatcher(reg, local, deployer, time.Minute)
	require.NoError(t, w.Tick(context.Background()))
	assert.Empty(t, deployer.calls)
}

func TestSyncWatcherIdleWithoutCoordination(t *testing.T) {
	local := coordination.NewDeploySync(coordination.NewNullStore(), "machine-a", 10*time.Minute)
	reg := &fakeRegistry{projects: []*domain.Project{
		vcsProject("api", "https://github.com/acme/api.git", "abc1234"),
	}}
	deployer := &fakeDeployer{status: domain.DeploymentStatusSuccess}

	w := NewSyncWatcher(reg, local, deployer, time.Minute)
	require.NoError(t, w.Tick(context.Background()))
	assert.Empty(t, deployer.calls)
}
