// Package project implements the project management subcommands.
package project

import "github.com/spf13/cobra"

func NewCmdProject() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(NewCmdProjectAdd())
	cmd.AddCommand(NewCmdProjectList())
	cmd.AddCommand(NewCmdProjectShow())
	cmd.AddCommand(NewCmdProjectRemove())
	cmd.AddCommand(NewCmdProjectDeploy())
	cmd.AddCommand(NewCmdProjectDeployments())
	return cmd
}
