package project

import (
	"fmt"

	"github.com/skiff-cd/skiff/app"
	"github.com/skiff-cd/skiff/cmd/output"
	"github.com/skiff-cd/skiff/cmd/utils"
	"github.com/spf13/cobra"
)

func NewCmdProjectDeployments() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments <project-id>",
		Short: "Show a project's deployment history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a := app.Get()

			if _, err := a.Registry.Get(args[0]); err != nil {
				utils.HandleCommandError("finding project", err, "project_id", args[0])
				return
			}

			limit, _ := cmd.Flags().GetInt("limit")
			deployments, err := a.History.List(args[0], limit)
			if err != nil {
				utils.HandleCommandError("listing deployments", err, "project_id", args[0])
				return
			}

			table, err := output.PrintDeploymentList(deployments)
			if err != nil {
				utils.HandleCommandError("printing deployment list table", err)
				return
			}
			fmt.Fprint(cmd.OutOrStdout(), table)
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Maximum number of deployments to show")
	return cmd
}
