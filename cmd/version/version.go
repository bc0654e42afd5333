// Package version provides the version command for Skiff.
package version

import (
	"fmt"

	"github.com/skiff-cd/skiff/app"
	"github.com/spf13/cobra"
)

// NewCmdVersion creates the version command
func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version)
			return nil
		},
	}
}
