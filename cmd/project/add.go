package project

import (
	"fmt"

	"github.com/skiff-cd/skiff/app"
	"github.com/skiff-cd/skiff/cmd/output"
	"github.com/skiff-cd/skiff/cmd/utils"
	"github.com/skiff-cd/skiff/domain"
	"github.com/spf13/cobra"
)

func NewCmdProjectAdd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new managed project",
		Long: `Add a project to the registry. VCS-backed projects are cloned and kept in
sync with their tracked branch; manual projects deploy whatever is in their
workspace directory.`,
		Run: func(cmd *cobra.Command, args []string) {
			name, _ := cmd.Flags().GetString("name")
			repoURL, _ := cmd.Flags().GetString("repo-url")
			branch, _ := cmd.Flags().GetString("branch")
			entryFile, _ := cmd.Flags().GetString("entry-file")
			buildCommand, _ := cmd.Flags().GetString("build-command")
			webhookSecret, _ := cmd.Flags().GetString("webhook-secret")
			runner, _ := cmd.Flags().GetString("runner")
			domains, _ := cmd.Flags().GetStringArray("domain")
			allocatePort, _ := cmd.Flags().GetBool("allocate-port")

			a := app.Get()
			project := &domain.Project{
				Name:          name,
				RepoURL:       repoURL,
				Branch:        branch,
				EntryFile:     entryFile,
				BuildCommand:  buildCommand,
				WebhookSecret: webhookSecret,
				Runner:        runner,
				CustomDomains: domains,
			}

			if allocatePort {
				port, err := a.Registry.AllocatePort()
				if err != nil {
					utils.HandleCommandError("allocating port", err)
					return
				}
				project.Port = &port
			}

			created, err := a.Registry.Create(cmd.Context(), project)
			if err != nil {
				utils.HandleCommandError("creating project", err, "name", name)
				return
			}

			out, err := output.PrintProjectDetails(created, false)
			if err != nil {
				utils.HandleCommandError("printing project details table", err)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringP("name", "n", "", "Project name (the id is derived from it)")
	cmd.Flags().StringP("repo-url", "u", "", "Git repository URL (omit for a manual project)")
	cmd.Flags().StringP("branch", "b", "", "Branch to track (defaults to main)")
	cmd.Flags().StringP("entry-file", "e", "", "Entry file to run (auto-detected if not specified)")
	cmd.Flags().String("build-command", "", "Build command to run before starting")
	cmd.Flags().String("webhook-secret", "", "Shared secret for incoming webhook signatures")
	cmd.Flags().String("runner", "", "Runtime used to launch the entry file (defaults to node)")
	cmd.Flags().StringArray("domain", nil, "Additional custom domain routed to this project")
	cmd.Flags().Bool("allocate-port", true, "Allocate a port and health-check the process after deploys")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
