package deploy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/skiff-cd/skiff/domain"
)

// PackageManager identifies the tool resolving a workspace's dependencies.
type PackageManager struct {
	Name     string
	Lockfile string
}

// Detection order matters: the most specific lockfiles win over the npm
// default.
var packageManagers = []PackageManager{
	{Name: "bun", Lockfile: "bun.lockb"},
	{Name: "bun", Lockfile: "bun.lock"},
	{Name: "pnpm", Lockfile: "pnpm-lock.yaml"},
	{Name: "yarn", Lockfile: "yarn.lock"},
	{Name: "npm", Lockfile: "package-lock.json"},
}

const (
	manifestFile = "package.json"
	depsDir      = "node_modules"
	depsHashFile = ".skiff-deps-hash"
)

// DetectPackageManager returns the package manager for a workspace based on
// lockfile presence, defaulting to npm when only a manifest exists.
func DetectPackageManager(dir string) (*PackageManager, bool) {
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); err != nil {
		return nil, false
	}
	for _, pm := range packageManagers {
		if _, err := os.Stat(filepath.Join(dir, pm.Lockfile)); err == nil {
			found := pm
			return &found, true
		}
	}
	return &PackageManager{Name: "npm"}, true
}

// depsHash content-addresses the dependency set: a hash over the manifest
// plus lockfile, so unchanged inputs skip the reinstall.
func depsHash(dir string, pm *PackageManager) (string, error) {
	hasher := sha256.New()

	manifest, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return "", err
	}
	hasher.Write(manifest)

	if pm.Lockfile != "" {
		if lock, err := os.ReadFile(filepath.Join(dir, pm.Lockfile)); err == nil {
			hasher.Write(lock)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// installDependencies is stage 2: detect the package manager and install,
// skipping the install when the recorded content hash is unchanged and the
// dependency directory still exists.
func (d *Deployer) installDependencies(ctx context.Context, project *domain.Project, deployment *domain.Deployment) error {
	return d.installWorkspaceDeps(ctx, project.Directory, deployment)
}

func (d *Deployer) installWorkspaceDeps(ctx context.Context, dir string, deployment *domain.Deployment) error {
	pm, ok := DetectPackageManager(dir)
	if !ok {
		deployment.Log("no %s found, skipping dependency installation", manifestFile)
		return nil
	}

	hash, err := depsHash(dir, pm)
	if err != nil {
		return fmt.Errorf("failed to hash dependency manifest: %w", err)
	}

	hashPath := filepath.Join(dir, depsDir, depsHashFile)
	if _, err := os.Stat(filepath.Join(dir, depsDir)); err == nil {
		if recorded, err := os.ReadFile(hashPath); err == nil && strings.TrimSpace(string(recorded)) == hash {
			deployment.Log("dependencies unchanged (%s), skipping install", pm.Name)
			return nil
		}
	}

	deployment.Log("installing dependencies with %s", pm.Name)
	output, err := d.runCommand(ctx, dir, nil, pm.Name, "install")
	if err != nil {
		deployment.Log("%s install output:\n%s", pm.Name, output)
		return err
	}

	if err := os.WriteFile(hashPath, []byte(hash), 0o644); err == nil {
		deployment.Log("dependency hash recorded")
	}
	return nil
}

// nestedDirPattern matches a "change directory" step at the front of a build
// command, e.g. "cd web && npm run build".
var nestedDirPattern = regexp.MustCompile(`(?:^|&&|;)\s*cd\s+([^\s&;]+)`)

// installNestedDependencies is stage 3: if the build command descends into a
// subdirectory with its own manifest, install dependencies there too.
func (d *Deployer) installNestedDependencies(ctx context.Context, project *domain.Project, deployment *domain.Deployment) error {
	if project.BuildCommand == "" {
		return nil
	}

	match := nestedDirPattern.FindStringSubmatch(project.BuildCommand)
	if match == nil {
		return nil
	}

	nested := filepath.Join(project.Directory, match[1])
	if _, err := os.Stat(filepath.Join(nested, manifestFile)); err != nil {
		return nil
	}
	if _, err := os.Stat(filepath.Join(nested, depsDir)); err == nil {
		return nil
	}

	deployment.Log("nested workspace detected at %s", match[1])
	return d.installWorkspaceDeps(ctx, nested, deployment)
}

// build is stage 4: run the configured build command under a bounded
// timeout. The command is the operator's own shell line, executed in the
// project directory.
func (d *Deployer) build(ctx context.Context, project *domain.Project, deployment *domain.Deployment) error {
	command := project.BuildCommand
	if command == "" {
		if pm, ok := DetectPackageManager(project.Directory); ok && hasScript(project.Directory, "build") {
			command = pm.Name + " run build"
		}
	}
	if command == "" {
		deployment.Log("no build step configured")
		return nil
	}

	deployment.Log("building: %s", command)
	output, err := d.runCommand(ctx, project.Directory, nil, "sh", "-c", command)
	if output != "" {
		deployment.Log("build output:\n%s", strings.TrimSpace(output))
	}
	return err
}

// runCommand executes a subprocess with the build timeout applied, returning
// combined output.
func (d *Deployer) runCommand(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.BuildTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return string(output), fmt.Errorf("%s timed out after %s", name, d.config.BuildTimeout)
		}
		return string(output), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(output), nil
}

// hasScript reports whether the workspace manifest declares a script with
// the given name. A plain substring check on the scripts block is enough for
// the heuristics that use it.
func hasScript(dir, script string) bool {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(fmt.Sprintf("%q:", script)))
}

// ParseEnvFile reads KEY=VALUE pairs from a .env file. Blank lines and
// comments are ignored; surrounding quotes on values are stripped.
func ParseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	env := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			env[key] = value
		}
	}
	return env, scanner.Err()
}
