package project

import (
	"fmt"

	"github.com/skiff-cd/skiff/app"
	"github.com/skiff-cd/skiff/cmd/output"
	"github.com/skiff-cd/skiff/cmd/utils"
	"github.com/spf13/cobra"
)

func NewCmdProjectShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show project details",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			project, err := app.Get().Registry.Get(args[0])
			if err != nil {
				utils.HandleCommandError("finding project", err, "project_id", args[0])
				return
			}

			out, err := output.PrintProjectDetails(project, false)
			if err != nil {
				utils.HandleCommandError("printing project details table", err)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
		},
	}
}
