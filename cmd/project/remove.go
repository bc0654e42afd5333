package project

import (
	"github.com/skiff-cd/skiff/app"
	"github.com/skiff-cd/skiff/cmd/output"
	"github.com/skiff-cd/skiff/cmd/utils"
	"github.com/spf13/cobra"
)

func NewCmdProjectRemove() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project-id>",
		Short: "Remove a project from the registry",
		Long: `Remove a project from the registry. The workspace directory and any
running processes are left untouched.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := app.Get().Registry.Delete(args[0]); err != nil {
				utils.HandleCommandError("removing project", err, "project_id", args[0])
				return
			}
			output.FprintSuccess(cmd, "Project '%s' removed", args[0])
		},
	}
}
