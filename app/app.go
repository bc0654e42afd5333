// Package app wires Skiff's services together: database, repositories,
// adapters, the deployment engine and the coordination layer.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skiff-cd/skiff/config"
	"github.com/skiff-cd/skiff/coordination"
	"github.com/skiff-cd/skiff/db"
	"github.com/skiff-cd/skiff/deploy"
	"github.com/skiff-cd/skiff/encryption"
	"github.com/skiff-cd/skiff/git"
	"github.com/skiff-cd/skiff/ingress"
	"github.com/skiff-cd/skiff/registry"
	"github.com/skiff-cd/skiff/repository"
	"github.com/skiff-cd/skiff/supervisor"
	"gorm.io/gorm"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// SharedEnvFile holds secrets injected into every deployed process.
const SharedEnvFile = "shared.env"

// App is the assembled application. Coordination components are always
// present; without a configured store they are backed by the null store and
// every coordination operation degrades silently.
type App struct {
	Config *config.Config

	DB       *gorm.DB
	Projects repository.ProjectRepository
	History  repository.DeploymentRepository

	Git        git.Service
	Supervisor supervisor.Supervisor
	Ingress    *ingress.IngressService

	Store      coordination.Store
	DeploySync *coordination.DeploySync
	Elector    *coordination.Elector
	Heartbeat  *coordination.HeartbeatPublisher
	Monitor    *coordination.HeartbeatMonitor

	Deployer *deploy.Deployer
	Registry registry.Service
	Webhooks *registry.WebhookTask
}

// New assembles the application from a validated configuration.
func New(cfg *config.Config) (*App, error) {
	for _, dir := range []string{cfg.DataDir, cfg.TmpDir, cfg.WorkspaceDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	database, err := db.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrateAll(database); err != nil {
		return nil, err
	}

	encryptionSvc, err := encryption.NewEncryptionService(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	projects := repository.NewProjectRepository(database, encryptionSvc)
	history := repository.NewDeploymentRepository(database)

	gitService := git.NewGitService(cfg.GitTimeout)
	sup := supervisor.NewPM2Supervisor(cfg.SupervisorCommand)
	ingressSvc := ingress.NewIngressService(
		cfg.IngressConfigPath,
		cfg.IngressProcess,
		ingress.NewCloudflaredDNS(cfg.TunnelName),
		sup,
	)

	var store coordination.Store
	if cfg.CoordinationEnabled() {
		redisStore, err := coordination.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to coordination store: %w", err)
		}
		store = redisStore
		slog.Info("Coordination enabled", "redis_addr", cfg.RedisAddr, "machine_id", cfg.MachineID)
	} else {
		store = coordination.NewNullStore()
		slog.Info("Coordination disabled, running single-machine")
	}

	deploySync := coordination.NewDeploySync(store, cfg.MachineID, coordination.DefaultSyncTTL)

	deployer := deploy.NewDeployer(projects, history, gitService, sup, ingressSvc, deploySync, cfg)
	if sharedEnv := loadSharedEnv(cfg.DataDir); len(sharedEnv) > 0 {
		deployer.SetSharedEnv(sharedEnv)
	}

	var webhookTask *registry.WebhookTask
	if cfg.GitHubToken != "" && cfg.WebhookBaseURL != "" {
		webhookTask = registry.NewWebhookTask(registry.NewGitHubRegistrar(cfg.GitHubToken, cfg.WebhookBaseURL))
	} else {
		webhookTask = registry.NewWebhookTask(nil)
	}

	registrySvc := registry.NewService(projects, cfg, webhookTask)

	return &App{
		Config:     cfg,
		DB:         database,
		Projects:   projects,
		History:    history,
		Git:        gitService,
		Supervisor: sup,
		Ingress:    ingressSvc,
		Store:      store,
		DeploySync: deploySync,
		Deployer:   deployer,
		Registry:   registrySvc,
		Webhooks:   webhookTask,
	}, nil
}

// InitCoordinators builds the leader elector, heartbeat publisher and monitor.
// The duty callbacks toggle the leader-only heartbeat monitoring.
func (a *App) InitCoordinators(onGained, onLost func(), onOffline func(machineID string)) {
	cfg := a.Config
	a.Elector = coordination.NewElector(
		a.Store,
		cfg.MachineID,
		cfg.LeaderInterval*3,
		cfg.LeaderInterval,
		onGained,
		onLost,
	)
	a.Heartbeat = coordination.NewHeartbeatPublisher(a.Store, cfg.MachineID, cfg.HeartbeatInterval, a.Supervisor)
	a.Monitor = coordination.NewHeartbeatMonitor(a.Store, cfg.MachineID, cfg.MonitorInterval, onOffline)
}

var defaultApp *App

// Initialize assembles the default application instance used by the CLI.
func Initialize(cfg *config.Config) error {
	a, err := New(cfg)
	if err != nil {
		return err
	}
	defaultApp = a
	return nil
}

// Get returns the default application instance.
func Get() *App {
	return defaultApp
}

// SetForTesting overrides the default application instance in tests.
func SetForTesting(a *App) {
	defaultApp = a
}

// Close releases the coordination store connection.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

func loadSharedEnv(dataDir string) map[string]string {
	path := filepath.Join(dataDir, SharedEnvFile)
	env, err := deploy.ParseEnvFile(path)
	if err != nil {
		return nil
	}
	slog.Info("Shared environment loaded", "path", path, "variables", len(env))
	return env
}
