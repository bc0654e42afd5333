package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skiff-cd/skiff/domain"
)

// StartPlan is the resolved way to launch a project's main process.
type StartPlan struct {
	Command string
	Args    []string
}

func (p *StartPlan) Describe() string {
	if len(p.Args) == 0 {
		return p.Command
	}
	return p.Command + " " + strings.Join(p.Args, " ")
}

// conventionalEntries are probed in order when no entry file is configured.
var conventionalEntries = []string{
	"index.js",
	"server.js",
	"app.js",
	"main.js",
	"src/index.js",
	"dist/index.js",
	"build/index.js",
}

// ssrFrameworks are packages whose presence means the project should be
// started through its own start script rather than a plain entry file.
var ssrFrameworks = []string{"next", "nuxt", "astro", "@remix-run/node", "svelte-kit"}

// staticOutputDirs are probed, in order, for a prebuilt static site.
var staticOutputDirs = []string{"dist", "build", "out", "public"}

const launcherScript = "skiff-start.sh"

// resolveRuntime is stage 5: prefer the configured entry file, then probe
// conventional filenames, then fall back to framework- and static-site
// launchers.
func (d *Deployer) resolveRuntime(project *domain.Project, deployment *domain.Deployment) (*StartPlan, error) {
	runner := project.Runner
	if runner == "" {
		runner = "node"
	}

	if project.EntryFile != "" {
		return d.planForEntry(project, deployment, runner, project.EntryFile)
	}

	for _, candidate := range conventionalEntries {
		if _, err := os.Stat(filepath.Join(project.Directory, candidate)); err == nil {
			deployment.Log("resolved entry point %s", candidate)
			return &StartPlan{Command: runner, Args: []string{candidate}}, nil
		}
	}

	if framework, ok := detectSSRFramework(project.Directory); ok {
		deployment.Log("detected %s project, starting via package manager", framework)
		return d.writeStartScriptLauncher(project, deployment)
	}

	if dir, ok := detectStaticOutput(project.Directory); ok {
		deployment.Log("detected static output in %s, serving it", dir)
		return d.writeStaticLauncher(project, deployment, dir)
	}

	return nil, fmt.Errorf("no runnable entry point found in %s", project.Directory)
}

func (d *Deployer) planForEntry(project *domain.Project, deployment *domain.Deployment, runner, entry string) (*StartPlan, error) {
	path := filepath.Join(project.Directory, entry)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("configured entry file %s does not exist", entry)
	}

	// An entry the runner cannot execute directly (e.g. TypeScript) is
	// launched through the package manager's start script instead.
	if strings.HasSuffix(entry, ".ts") || strings.HasSuffix(entry, ".tsx") {
		deployment.Log("entry %s is not directly runnable, delegating to start script", entry)
		return d.writeStartScriptLauncher(project, deployment)
	}

	deployment.Log("using configured entry point %s", entry)
	return &StartPlan{Command: runner, Args: []string{entry}}, nil
}

// writeStartScriptLauncher generates a tiny launcher delegating to the
// package manager's start command.
func (d *Deployer) writeStartScriptLauncher(project *domain.Project, deployment *domain.Deployment) (*StartPlan, error) {
	pm, ok := DetectPackageManager(project.Directory)
	if !ok {
		return nil, fmt.Errorf("no %s to delegate the start command to", manifestFile)
	}
	if !hasScript(project.Directory, "start") {
		return nil, fmt.Errorf("no start script declared in %s", manifestFile)
	}

	script := fmt.Sprintf("#!/bin/sh\nexec %s run start\n", pm.Name)
	return d.writeLauncher(project, deployment, script)
}

// writeStaticLauncher generates a launcher serving a prebuilt static
// directory on the project's port.
func (d *Deployer) writeStaticLauncher(project *domain.Project, deployment *domain.Deployment, dir string) (*StartPlan, error) {
	script := fmt.Sprintf("#!/bin/sh\nexec npx serve -s %s -l \"${PORT:-3000}\"\n", dir)
	return d.writeLauncher(project, deployment, script)
}

func (d *Deployer) writeLauncher(project *domain.Project, deployment *domain.Deployment, script string) (*StartPlan, error) {
	path := filepath.Join(project.Directory, launcherScript)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return nil, fmt.Errorf("failed to write launcher script: %w", err)
	}
	deployment.Log("launcher script generated")
	return &StartPlan{Command: "sh", Args: []string{launcherScript}}, nil
}

// detectSSRFramework checks the manifest's dependencies for a known
// server-rendering framework.
func detectSSRFramework(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return "", false
	}

	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", false
	}

	for _, framework := range ssrFrameworks {
		if _, ok := manifest.Dependencies[framework]; ok {
			return framework, true
		}
		if _, ok := manifest.DevDependencies[framework]; ok {
			return framework, true
		}
	}
	return "", false
}

// detectStaticOutput looks for a conventional build output directory holding
// an index.html.
func detectStaticOutput(dir string) (string, bool) {
	for _, candidate := range staticOutputDirs {
		if _, err := os.Stat(filepath.Join(dir, candidate, "index.html")); err == nil {
			return candidate, true
		}
	}
	return "", false
}
