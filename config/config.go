// Package config holds the Skiff runtime configuration, assembled from
// defaults, SKIFF_* environment variables and CLI overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	ProjectsDir = "projects"
	TmpDir      = "tmp"
)

// EnvProvider abstracts environment variable access for testing.
type EnvProvider interface {
	Getenv(key string) string
	UserHomeDir() (string, error)
	Hostname() (string, error)
}

// DefaultEnvProvider implements EnvProvider using real OS functions.
type DefaultEnvProvider struct{}

func (p *DefaultEnvProvider) Getenv(key string) string     { return os.Getenv(key) }
func (p *DefaultEnvProvider) UserHomeDir() (string, error) { return os.UserHomeDir() }
func (p *DefaultEnvProvider) Hostname() (string, error)    { return os.Hostname() }

// GetDefaultDataDir returns the default Skiff data directory following the
// XDG Base Directory specification.
func GetDefaultDataDir() string {
	return getDefaultDataDirWithEnv(&DefaultEnvProvider{})
}

func getDefaultDataDirWithEnv(env EnvProvider) string {
	if xdgDataHome := env.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "skiff")
	}
	homeDir, _ := env.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "skiff")
}

// Config holds configuration for all services.
type Config struct {
	// Core paths
	DataDir      string
	DatabasePath string
	TmpDir       string
	WorkspaceDir string

	// Machine identity within the fleet
	MachineID string

	// Logging
	LogLevel     string
	ColorEnabled bool

	// HTTP server
	HTTPHost string
	HTTPPort int

	// Git
	GitTimeout time.Duration

	// Deployment engine
	BuildTimeout       time.Duration
	BasePort           int
	HealthCheckRetries int
	HealthCheckDelay   time.Duration

	// Process supervisor
	SupervisorCommand string

	// Ingress
	IngressConfigPath string
	IngressProcess    string
	BaseDomain        string
	TunnelName        string

	// Schedulers
	PollInterval      time.Duration
	PollInitialDelay  time.Duration
	SyncInterval      time.Duration
	LeaderInterval    time.Duration
	HeartbeatInterval time.Duration
	MonitorInterval   time.Duration

	// Coordination store (optional; empty address disables coordination)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Webhook auto-registration (optional; empty values disable it)
	WebhookBaseURL string
	GitHubToken    string

	// Encryption
	EncryptionKey string

	env EnvProvider
}

// NewConfig creates a configuration from defaults and environment variables,
// with an optional data directory override from the CLI.
func NewConfig(cliDataDir string) (*Config, error) {
	return NewConfigWithEnv(&DefaultEnvProvider{}, cliDataDir)
}

// NewConfigWithEnv creates a configuration with a custom environment provider
// (for testing).
func NewConfigWithEnv(env EnvProvider, cliDataDir string) (*Config, error) {
	c := &Config{env: env}

	c.setDefaults()
	c.loadFromEnv()

	if cliDataDir != "" {
		c.DataDir = cliDataDir
	}

	c.derivePaths()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func (c *Config) setDefaults() {
	c.DataDir = getDefaultDataDirWithEnv(c.env)
	c.MachineID, _ = c.env.Hostname()
	c.LogLevel = "info"
	c.ColorEnabled = true
	c.HTTPHost = "127.0.0.1"
	c.HTTPPort = 8080
	c.GitTimeout = 5 * time.Minute
	c.BuildTimeout = 10 * time.Minute
	c.BasePort = 3000
	c.HealthCheckRetries = 5
	c.HealthCheckDelay = 3 * time.Second
	c.SupervisorCommand = "pm2"
	c.IngressProcess = "cloudflared"
	c.TunnelName = "skiff"
	c.PollInterval = 5 * time.Minute
	c.PollInitialDelay = 10 * time.Second
	c.SyncInterval = 30 * time.Second
	c.LeaderInterval = 30 * time.Second
	c.HeartbeatInterval = 30 * time.Second
}

func (c *Config) loadFromEnv() {
	if v := c.env.Getenv("SKIFF_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := c.env.Getenv("SKIFF_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := c.env.Getenv("SKIFF_MACHINE_ID"); v != "" {
		c.MachineID = v
	}
	if v := c.env.Getenv("SKIFF_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := c.env.Getenv("SKIFF_COLOR_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.ColorEnabled = enabled
		}
	}
	if v := c.env.Getenv("SKIFF_HTTP_HOST"); v != "" {
		c.HTTPHost = v
	}
	if v := c.env.Getenv("SKIFF_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}
	if v := c.env.Getenv("SKIFF_GIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitTimeout = d
		}
	}
	if v := c.env.Getenv("SKIFF_BUILD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BuildTimeout = d
		}
	}
	if v := c.env.Getenv("SKIFF_BASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.BasePort = port
		}
	}
	if v := c.env.Getenv("SKIFF_HEALTH_CHECK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HealthCheckRetries = n
		}
	}
	if v := c.env.Getenv("SKIFF_HEALTH_CHECK_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HealthCheckDelay = d
		}
	}
	if v := c.env.Getenv("SKIFF_SUPERVISOR_COMMAND"); v != "" {
		c.SupervisorCommand = v
	}
	if v := c.env.Getenv("SKIFF_INGRESS_CONFIG"); v != "" {
		c.IngressConfigPath = v
	}
	if v := c.env.Getenv("SKIFF_INGRESS_PROCESS"); v != "" {
		c.IngressProcess = v
	}
	if v := c.env.Getenv("SKIFF_BASE_DOMAIN"); v != "" {
		c.BaseDomain = v
	}
	if v := c.env.Getenv("SKIFF_TUNNEL_NAME"); v != "" {
		c.TunnelName = v
	}
	if v := c.env.Getenv("SKIFF_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval = d
		}
	}
	if v := c.env.Getenv("SKIFF_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SyncInterval = d
		}
	}
	if v := c.env.Getenv("SKIFF_LEADER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LeaderInterval = d
		}
	}
	if v := c.env.Getenv("SKIFF_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HeartbeatInterval = d
		}
	}
	if v := c.env.Getenv("SKIFF_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.MonitorInterval = d
		}
	}
	if v := c.env.Getenv("SKIFF_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := c.env.Getenv("SKIFF_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := c.env.Getenv("SKIFF_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RedisDB = n
		}
	}
	if v := c.env.Getenv("SKIFF_WEBHOOK_BASE_URL"); v != "" {
		c.WebhookBaseURL = v
	}
	if v := c.env.Getenv("SKIFF_GITHUB_TOKEN"); v != "" {
		c.GitHubToken = v
	}
	if v := c.env.Getenv("SKIFF_ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}
}

func (c *Config) derivePaths() {
	c.TmpDir = filepath.Join(c.DataDir, TmpDir)
	c.WorkspaceDir = filepath.Join(c.DataDir, ProjectsDir)

	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "skiff.db")
	}
	if c.IngressConfigPath == "" {
		c.IngressConfigPath = filepath.Join(c.DataDir, "ingress.yml")
	}

	// The offline scan runs slower than the heartbeat cadence so a single
	// late publish never looks like an outage.
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 3 * c.HeartbeatInterval
	}
}

func (c *Config) validate() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warning": true, "error": true, "silent": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warning, error or silent)", c.LogLevel)
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d (must be 1-65535)", c.HTTPPort)
	}

	if c.MachineID == "" {
		return fmt.Errorf("machine id is required - set SKIFF_MACHINE_ID or ensure the hostname is resolvable")
	}

	if c.GitTimeout <= 0 {
		return fmt.Errorf("git timeout must be positive, got: %v", c.GitTimeout)
	}
	if c.BuildTimeout <= 0 {
		return fmt.Errorf("build timeout must be positive, got: %v", c.BuildTimeout)
	}
	if c.BasePort < 1 || c.BasePort > 65435 {
		return fmt.Errorf("invalid base port: %d", c.BasePort)
	}
	if c.HealthCheckRetries < 1 {
		return fmt.Errorf("health check retries must be at least 1, got: %d", c.HealthCheckRetries)
	}

	for name, d := range map[string]time.Duration{
		"poll interval":      c.PollInterval,
		"sync interval":      c.SyncInterval,
		"leader interval":    c.LeaderInterval,
		"heartbeat interval": c.HeartbeatInterval,
		"monitor interval":   c.MonitorInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got: %v", name, d)
		}
	}

	if c.SupervisorCommand == "" {
		return fmt.Errorf("supervisor command cannot be empty")
	}

	return nil
}

// CoordinationEnabled reports whether a coordination store is configured.
func (c *Config) CoordinationEnabled() bool {
	return c.RedisAddr != ""
}
