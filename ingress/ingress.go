// Package ingress manages hostname→port routing rules for the tunnel daemon
// and the matching DNS routes.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/skiff-cd/skiff/supervisor"
	"gopkg.in/yaml.v3"
)

const catchAllService = "http_status:404"

// Rule maps a public hostname to a local service URL.
type Rule struct {
	Hostname string `yaml:"hostname,omitempty"`
	Service  string `yaml:"service"`
}

type tunnelConfig struct {
	Tunnel          string `yaml:"tunnel,omitempty"`
	CredentialsFile string `yaml:"credentials-file,omitempty"`
	Ingress         []Rule `yaml:"ingress"`
}

// DNSRegistrar registers a hostname route with the tunnel provider.
type DNSRegistrar interface {
	RegisterRoute(ctx context.Context, hostname string) error
}

// CloudflaredDNS registers DNS routes via the cloudflared CLI.
type CloudflaredDNS struct {
	tunnelName string
}

var _ DNSRegistrar = (*CloudflaredDNS)(nil)

func NewCloudflaredDNS(tunnelName string) *CloudflaredDNS {
	return &CloudflaredDNS{tunnelName: tunnelName}
}

// RegisterRoute creates the DNS record pointing the hostname at the tunnel.
// An existing record is not an error.
func (d *CloudflaredDNS) RegisterRoute(ctx context.Context, hostname string) error {
	cmd := exec.CommandContext(ctx, "cloudflared", "tunnel", "route", "dns", d.tunnelName, hostname)
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.ToLower(string(output))
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "already configured") {
			slog.Debug("DNS route already exists", "hostname", hostname)
			return nil
		}
		return fmt.Errorf("failed to register DNS route for %s: %w: %s",
			hostname, err, strings.TrimSpace(string(output)))
	}
	slog.Info("DNS route registered", "hostname", hostname, "tunnel", d.tunnelName)
	return nil
}

// IngressService upserts routing rules into the tunnel configuration file and
// restarts the tunnel process when the rules change.
type IngressService struct {
	configPath     string
	ingressProcess string
	dns            DNSRegistrar
	supervisor     supervisor.Supervisor
}

func NewIngressService(
	configPath, ingressProcess string,
	dns DNSRegistrar,
	sup supervisor.Supervisor,
) *IngressService {
	return &IngressService{
		configPath:     configPath,
		ingressProcess: ingressProcess,
		dns:            dns,
		supervisor:     sup,
	}
}

// UpsertRule adds or updates the rule for a hostname. Returns whether the
// configuration file was actually modified; an identical existing rule is a
// no-op and no write happens.
func (s *IngressService) UpsertRule(hostname string, port int) (bool, error) {
	config, err := s.load()
	if err != nil {
		return false, err
	}

	service := fmt.Sprintf("http://localhost:%d", port)

	for i, rule := range config.Ingress {
		if rule.Hostname != hostname {
			continue
		}
		if rule.Service == service {
			slog.Debug("Ingress rule unchanged", "hostname", hostname, "service", service)
			return false, nil
		}
		config.Ingress[i].Service = service
		return true, s.save(config)
	}

	// Insert before the trailing catch-all rule.
	insertAt := len(config.Ingress)
	if insertAt > 0 && config.Ingress[insertAt-1].Hostname == "" {
		insertAt--
	}
	rules := make([]Rule, 0, len(config.Ingress)+1)
	rules = append(rules, config.Ingress[:insertAt]...)
	rules = append(rules, Rule{Hostname: hostname, Service: service})
	rules = append(rules, config.Ingress[insertAt:]...)
	config.Ingress = rules

	return true, s.save(config)
}

// Apply upserts the rule, registers the DNS route and restarts the tunnel
// process if the rules changed.
func (s *IngressService) Apply(ctx context.Context, hostname string, port int) error {
	changed, err := s.UpsertRule(hostname, port)
	if err != nil {
		return fmt.Errorf("failed to upsert ingress rule: %w", err)
	}

	if err := s.dns.RegisterRoute(ctx, hostname); err != nil {
		return err
	}

	if changed {
		slog.Info("Ingress rules changed, restarting tunnel",
			"hostname", hostname,
			"port", port,
			"process", s.ingressProcess)
		if err := s.supervisor.Restart(ctx, s.ingressProcess); err != nil {
			return fmt.Errorf("failed to restart ingress process: %w", err)
		}
	}
	return nil
}

// RemoveRule deletes the rule for a hostname if present.
func (s *IngressService) RemoveRule(hostname string) (bool, error) {
	config, err := s.load()
	if err != nil {
		return false, err
	}

	for i, rule := range config.Ingress {
		if rule.Hostname == hostname {
			config.Ingress = append(config.Ingress[:i], config.Ingress[i+1:]...)
			return true, s.save(config)
		}
	}
	return false, nil
}

// Rules returns the current rule list.
func (s *IngressService) Rules() ([]Rule, error) {
	config, err := s.load()
	if err != nil {
		return nil, err
	}
	return config.Ingress, nil
}

func (s *IngressService) load() (*tunnelConfig, error) {
	data, err := os.ReadFile(s.configPath)
	if os.IsNotExist(err) {
		return &tunnelConfig{
			Ingress: []Rule{{Service: catchAllService}},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ingress config: %w", err)
	}

	var config tunnelConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse ingress config: %w", err)
	}
	if len(config.Ingress) == 0 {
		config.Ingress = []Rule{{Service: catchAllService}}
	}
	return &config, nil
}

// save writes the configuration atomically via a temp file rename.
func (s *IngressService) save(config *tunnelConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to serialize ingress config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create ingress config directory: %w", err)
	}

	tmpPath := s.configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ingress config: %w", err)
	}
	if err := os.Rename(tmpPath, s.configPath); err != nil {
		return fmt.Errorf("failed to replace ingress config: %w", err)
	}
	return nil
}
