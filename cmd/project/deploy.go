package project

import (
	"os"
	"time"

	"github.com/skiff-cd/skiff/app"
	"github.com/skiff-cd/skiff/cmd/output"
	"github.com/skiff-cd/skiff/cmd/utils"
	"github.com/skiff-cd/skiff/domain"
	"github.com/spf13/cobra"
)

func NewCmdProjectDeploy() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <project-id>",
		Short: "Deploy a project",
		Long: `Run the full deployment pipeline for a project: sync the workspace, install
dependencies, build, start the process and wire up ingress.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a := app.Get()

			project, err := a.Registry.Get(args[0])
			if err != nil {
				utils.HandleCommandError("finding project", err, "project_id", args[0])
				return
			}

			output.FprintPlain(cmd, "Deploying project '%s'...", project.Name)

			deployment, err := a.Deployer.Deploy(cmd.Context(), project.ID, domain.TriggerManual)
			if err != nil {
				utils.HandleCommandError("deploying project", err, "project_id", project.ID)
				return
			}

			for _, line := range deployment.Logs {
				output.FprintPlain(cmd, "  %s", line.Message)
			}

			if deployment.Status == domain.DeploymentStatusSuccess {
				output.FprintSuccess(cmd, "\nProject '%s' deployed successfully (%s)",
					project.Name, deployment.Duration.Round(time.Millisecond))
				if deployment.Commit != "" {
					output.FprintPlain(cmd, "Commit: %s %s", deployment.Commit, deployment.CommitMessage)
				}
			} else {
				output.FprintError(cmd, "\nDeployment failed: %s", deployment.Error)
				os.Exit(1)
			}
		},
	}
}
