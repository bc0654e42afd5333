package project

import (
	"fmt"

	"github.com/skiff-cd/skiff/app"
	"github.com/skiff-cd/skiff/cmd/output"
	"github.com/skiff-cd/skiff/cmd/utils"
	"github.com/spf13/cobra"
)

func NewCmdProjectList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all managed projects",
		Run: func(cmd *cobra.Command, args []string) {
			projects, err := app.Get().Registry.List()
			if err != nil {
				utils.HandleCommandError("listing projects", err)
				return
			}

			table, err := output.PrintProjectList(projects)
			if err != nil {
				utils.HandleCommandError("printing project list table", err)
				return
			}
			fmt.Fprint(cmd.OutOrStdout(), table)
		},
	}
}
