// Package supervisor adapts an external process supervisor (pm2 by default)
// behind a small idempotent interface. Commands are invoked with structured
// argument arrays, never shell strings.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/skiff-cd/skiff/domain"
)

// StartSpec describes a process to start under supervision.
type StartSpec struct {
	Name    string
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
}

// Supervisor is the process supervisor adapter. Stop and Delete tolerate
// "already stopped" and "not found".
type Supervisor interface {
	Start(ctx context.Context, spec StartSpec) error
	Stop(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	List(ctx context.Context) ([]domain.ProcessSnapshot, error)
}

// PM2Supervisor drives the pm2 CLI.
type PM2Supervisor struct {
	command string
}

var _ Supervisor = (*PM2Supervisor)(nil)

func NewPM2Supervisor(command string) *PM2Supervisor {
	if command == "" {
		command = "pm2"
	}
	return &PM2Supervisor{command: command}
}

func (s *PM2Supervisor) run(ctx context.Context, env map[string]string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, s.command, args...)
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %s: %w: %s",
			s.command, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Start launches a process under the supervisor. The spec's environment is
// passed through the supervisor invocation so the child inherits it.
func (s *PM2Supervisor) Start(ctx context.Context, spec StartSpec) error {
	slog.Info("Starting supervised process",
		"name", spec.Name,
		"command", spec.Command,
		"cwd", spec.Cwd)

	args := []string{"start", spec.Command, "--name", spec.Name}
	if spec.Cwd != "" {
		args = append(args, "--cwd", spec.Cwd)
	}
	if len(spec.Args) > 0 {
		args = append(args, "--")
		args = append(args, spec.Args...)
	}

	if _, err := s.run(ctx, spec.Env, args...); err != nil {
		slog.Error("Service operation failed",
			"layer", "supervisor",
			"operation", "process_start",
			"process_name", spec.Name,
			"error", err)
		return fmt.Errorf("failed to start process %q: %w", spec.Name, err)
	}
	return nil
}

// isNotFound matches the supervisor's "process not found" error output.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "doesn't exist")
}

func (s *PM2Supervisor) Stop(ctx context.Context, name string) error {
	if _, err := s.run(ctx, nil, "stop", name); err != nil {
		if isNotFound(err) {
			slog.Debug("Process not running, stop is a no-op", "process_name", name)
			return nil
		}
		return fmt.Errorf("failed to stop process %q: %w", name, err)
	}
	return nil
}

func (s *PM2Supervisor) Delete(ctx context.Context, name string) error {
	if _, err := s.run(ctx, nil, "delete", name); err != nil {
		if isNotFound(err) {
			slog.Debug("Process not registered, delete is a no-op", "process_name", name)
			return nil
		}
		return fmt.Errorf("failed to delete process %q: %w", name, err)
	}
	return nil
}

func (s *PM2Supervisor) Restart(ctx context.Context, name string) error {
	if _, err := s.run(ctx, nil, "restart", name); err != nil {
		return fmt.Errorf("failed to restart process %q: %w", name, err)
	}
	return nil
}

// pm2Process is the subset of `pm2 jlist` output Skiff cares about.
type pm2Process struct {
	Name   string `json:"name"`
	PID    int32  `json:"pid"`
	PM2Env struct {
		Status      string `json:"status"`
		RestartTime int    `json:"restart_time"`
		PMUptime    int64  `json:"pm_uptime"` // epoch millis
	} `json:"pm2_env"`
	Monit struct {
		Memory uint64  `json:"memory"`
		CPU    float64 `json:"cpu"`
	} `json:"monit"`
}

// List enumerates supervised processes from `pm2 jlist`.
func (s *PM2Supervisor) List(ctx context.Context) ([]domain.ProcessSnapshot, error) {
	output, err := s.run(ctx, nil, "jlist")
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	return parseProcessList(output)
}

func parseProcessList(output string) ([]domain.ProcessSnapshot, error) {
	// pm2 occasionally prefixes jlist output with log lines; the JSON array
	// starts at the first bracket.
	if idx := strings.Index(output, "["); idx > 0 {
		output = output[idx:]
	}

	var processes []pm2Process
	if err := json.Unmarshal([]byte(output), &processes); err != nil {
		return nil, fmt.Errorf("failed to parse supervisor process list: %w", err)
	}

	snapshots := make([]domain.ProcessSnapshot, 0, len(processes))
	for _, p := range processes {
		uptimeSec := int64(0)
		if p.PM2Env.PMUptime > 0 {
			uptimeSec = int64(time.Since(time.UnixMilli(p.PM2Env.PMUptime)).Seconds())
		}
		snapshots = append(snapshots, enrich(domain.ProcessSnapshot{
			Name:         p.Name,
			Status:       p.PM2Env.Status,
			PID:          p.PID,
			MemoryMB:     float64(p.Monit.Memory) / (1024 * 1024),
			CPUPercent:   p.Monit.CPU,
			UptimeSec:    uptimeSec,
			RestartCount: p.PM2Env.RestartTime,
		}))
	}
	return snapshots, nil
}
