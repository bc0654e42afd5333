package deploy

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/skiff-cd/skiff/config"
	"github.com/skiff-cd/skiff/db"
	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/encryption"
	"github.com/skiff-cd/skiff/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

type testHarness struct {
	deployer   *Deployer
	projects   repository.ProjectRepository
	history    repository.DeploymentRepository
	git        *fakeGit
	supervisor *fakeSupervisor
	ingress    *fakeIngress
	sync       *fakeSync
	config     *config.Config
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	gdb, err := db.InitDatabase(db.DBConfig{Path: ":memory:", LogLevel: logger.Silent})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAll(gdb))

	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	enc, err := encryption.NewEncryptionService(key)
	require.NoError(t, err)

	cfg := &config.Config{
		WorkspaceDir:       t.TempDir(),
		BuildTimeout:       time.Minute,
		HealthCheckRetries: 2,
		HealthCheckDelay:   50 * time.Millisecond,
	}

	h := &testHarness{
		projects:   repository.NewProjectRepository(gdb, enc),
		history:    repository.NewDeploymentRepository(gdb),
		git:        &fakeGit{},
		supervisor: &fakeSupervisor{},
		ingress:    &fakeIngress{},
		sync:       &fakeSync{},
		config:     cfg,
	}
	h.deployer = NewDeployer(h.projects, h.history, h.git, h.supervisor, h.ingress, h.sync, cfg)
	return h
}

func (h *testHarness) createProject(t *testing.T, project *domain.Project) *domain.Project {
	t.Helper()
	if project.Directory == "" {
		project.Directory = filepath.Join(h.config.WorkspaceDir, project.ID)
	}
	created, err := h.projects.Create(project)
	require.NoError(t, err)
	return created
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.Dir(name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDeployManualProjectSucceeds(t *testing.T) {
	h := newTestHarness(t)
	project := h.createProject(t, &domain.Project{
		ID:           "my-app",
		Name:         "My App",
		DeployMethod: domain.DeployMethodManual,
	})
	writeFile(t, project.Directory, "index.js", "console.log('hi')\n")

	deployment, err := h.deployer.Deploy(context.Background(), "my-app", domain.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, domain.DeploymentStatusSuccess, deployment.Status)
	assert.Empty(t, deployment.Commit, "manual projects carry no commit")
	assert.Equal(t, deployment.FinishedAt.Sub(deployment.StartedAt), deployment.Duration)

	require.Len(t, h.supervisor.started, 1)
	spec := h.supervisor.started[0]
	assert.Equal(t, "my-app", spec.Name)
	assert.Equal(t, "node", spec.Command)
	assert.Equal(t, []string{"index.js"}, spec.Args)
	assert.Equal(t, project.Directory, spec.Cwd)

	// Previous instances are always removed before starting.
	assert.Equal(t, []string{"my-app"}, h.supervisor.stopped)
	assert.Equal(t, []string{"my-app"}, h.supervisor.deleted)

	// No port means no health check and no ingress.
	assert.Empty(t, h.ingress.applied)

	require.Len(t, h.sync.published, 1)
	assert.Equal(t, "my-app", h.sync.published[0].projectID)

	history, err := h.history.List("my-app", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.DeploymentStatusSuccess, history[0].Status)
}

func TestDeployVCSProjectRecordsCommit(t *testing.T) {
	h := newTestHarness(t)
	h.git.shortHead = "abc1234"
	h.git.commitMessage = "fix login"

	project := h.createProject(t, &domain.Project{
		ID:           "api",
		Name:         "api",
		RepoURL:      "https://github.com/acme/api.git",
		Branch:       "main",
		DeployMethod: domain.DeployMethodVCS,
	})
	require.NoError(t, os.MkdirAll(project.Directory, 0o755))
	writeFile(t, project.Directory, "server.js", "")

	deployment, err := h.deployer.Deploy(context.Background(), "api", domain.TriggerWebhook)
	require.NoError(t, err)

	assert.Equal(t, domain.DeploymentStatusSuccess, deployment.Status)
	assert.Equal(t, "abc1234", deployment.Commit)
	assert.Equal(t, "fix login", deployment.CommitMessage)
	// The directory already existed, so fetch+reset, not clone.
	assert.Empty(t, h.git.cloned)
	assert.Equal(t, []string{"main"}, h.git.fetched)

	loaded, err := h.projects.FindByID("api")
	require.NoError(t, err)
	assert.Equal(t, "abc1234", loaded.RunningCommit)
	assert.Equal(t, "abc1234", loaded.LastDeployCommit)
	assert.Equal(t, "success", loaded.LastDeployStatus)

	require.Len(t, h.sync.published, 1)
	assert.Equal(t, "abc1234", h.sync.published[0].commit)
	assert.Equal(t, domain.TriggerWebhook, h.sync.published[0].trigger)
}

func TestDeployFailsHealthCheckWithoutRollback(t *testing.T) {
	h := newTestHarness(t)

	// Reserve a loopback port with nothing listening on it.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	project := h.createProject(t, &domain.Project{
		ID:            "web",
		Name:          "web",
		DeployMethod:  domain.DeployMethodManual,
		Port:          &port,
		RunningCommit: "old1234",
	})
	writeFile(t, project.Directory, "index.js", "")

	deployment, err := h.deployer.Deploy(context.Background(), "web", domain.TriggerManual)
	require.NoError(t, err, "pipeline failures surface on the record, not the call")

	assert.Equal(t, domain.DeploymentStatusFailed, deployment.Status)
	assert.Contains(t, deployment.Error, "health check failed")

	// The process was started and is left running; no rollback.
	require.Len(t, h.supervisor.started, 1)
	assert.Equal(t, strconv.Itoa(port), h.supervisor.started[0].Env["PORT"])

	loaded, err := h.projects.FindByID("web")
	require.NoError(t, err)
	assert.Equal(t, "old1234", loaded.RunningCommit, "running commit only advances on success")
	assert.Equal(t, "failed", loaded.LastDeployStatus)

	assert.Empty(t, h.sync.published, "failed deploys are not announced")
	assert.Empty(t, h.ingress.applied)
}

func TestDeployHealthCheckBoundedWithZeroRetries(t *testing.T) {
	h := newTestHarness(t)
	h.config.HealthCheckRetries = 0

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	project := h.createProject(t, &domain.Project{
		ID:           "web",
		Name:         "web",
		DeployMethod: domain.DeployMethodManual,
		Port:         &port,
	})
	writeFile(t, project.Directory, "index.js", "")

	// A zero retry count must clamp to a single attempt, not wrap around
	// into an effectively unbounded budget.
	type result struct {
		deployment *domain.Deployment
		err        error
	}
	done := make(chan result, 1)
	go func() {
		deployment, err := h.deployer.Deploy(context.Background(), "web", domain.TriggerManual)
		done <- result{deployment, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, domain.DeploymentStatusFailed, res.deployment.Status)
		assert.Contains(t, res.deployment.Error, "after 1 attempts")
	case <-time.After(3 * time.Second):
		t.Fatal("deploy did not finalize, health check retries are unbounded")
	}
}

func TestDeployUnknownProject(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.deployer.Deploy(context.Background(), "ghost", domain.TriggerManual)
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
}

func TestDeployAppliesIngressForEveryHostname(t *testing.T) {
	h := newTestHarness(t)
	h.config.BaseDomain = "example.com"

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte("HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"))
			conn.Close()
		}
	}()
	port := listener.Addr().(*net.TCPAddr).Port

	project := h.createProject(t, &domain.Project{
		ID:            "my-app",
		Name:          "My App",
		DeployMethod:  domain.DeployMethodManual,
		Port:          &port,
		CustomDomains: []string{"www.acme.dev"},
	})
	writeFile(t, project.Directory, "index.js", "")

	deployment, err := h.deployer.Deploy(context.Background(), "my-app", domain.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, domain.DeploymentStatusSuccess, deployment.Status)

	require.Len(t, h.ingress.applied, 2)
	assert.Equal(t, ingressCall{hostname: "my-app.example.com", port: port}, h.ingress.applied[0])
	assert.Equal(t, ingressCall{hostname: "www.acme.dev", port: port}, h.ingress.applied[1])
}

func TestDeployStartsCompanions(t *testing.T) {
	h := newTestHarness(t)

	project := h.createProject(t, &domain.Project{
		ID:           "my-app",
		Name:         "My App",
		DeployMethod: domain.DeployMethodManual,
		Companions: []domain.Companion{
			{Name: "worker", Command: "node", Args: []string{"worker.js"}},
		},
	})
	writeFile(t, project.Directory, "index.js", "")

	deployment, err := h.deployer.Deploy(context.Background(), "my-app", domain.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, domain.DeploymentStatusSuccess, deployment.Status)

	require.Len(t, h.supervisor.started, 2)
	assert.Equal(t, "my-app", h.supervisor.started[0].Name)
	assert.Equal(t, "my-app-worker", h.supervisor.started[1].Name)
	// Companions are torn down alongside the main process.
	assert.Equal(t, []string{"my-app", "my-app-worker"}, h.supervisor.stopped)
}

func TestBuildEnvLayersSharedSecretsOverProjectEnv(t *testing.T) {
	h := newTestHarness(t)
	h.deployer.SetSharedEnv(map[string]string{"API_KEY": "shared", "REGION": "eu"})

	port := 3100
	project := h.createProject(t, &domain.Project{
		ID:           "my-app",
		Name:         "My App",
		DeployMethod: domain.DeployMethodManual,
		Port:         &port,
	})
	writeFile(t, project.Directory, ".env", "API_KEY=local\nDEBUG=1\n")

	deployment := domain.NewDeployment("my-app", domain.TriggerManual)
	env := h.deployer.buildEnv(project, deployment)

	assert.Equal(t, "shared", env["API_KEY"], "shared secrets win over the .env file")
	assert.Equal(t, "1", env["DEBUG"])
	assert.Equal(t, "eu", env["REGION"])
	assert.Equal(t, "3100", env["PORT"])
}
