// Package root implements the command line interface for Skiff.
package root

import (
	"log"
	"os"

	"github.com/skiff-cd/skiff/app"
	"github.com/skiff-cd/skiff/cmd/fleet"
	"github.com/skiff-cd/skiff/cmd/output"
	"github.com/skiff-cd/skiff/cmd/project"
	"github.com/skiff-cd/skiff/cmd/server"
	"github.com/skiff-cd/skiff/cmd/version"
	"github.com/skiff-cd/skiff/config"
	"github.com/skiff-cd/skiff/logging"
	"github.com/spf13/cobra"
)

func Execute() {
	if err := NewCmdRoot(config.GetDefaultDataDir()).Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCmdRoot(defaultDataDir string) *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "skiff",
		Short: "Self-hosted deployment orchestrator for supervised processes",
		Long: `Skiff deploys applications from Git repositories onto one or more machines.
It builds projects, runs them under a process supervisor, wires up ingress,
and keeps a fleet of machines converged on the same deployed commit.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg, err := config.NewConfig(dataDir)
			if err != nil {
				log.Fatalf("Failed to initialize configuration: %s", err)
			}

			colorDisabled := !cfg.ColorEnabled
			if output.NoColor.IsSet() {
				colorDisabled = true
			}
			output.InitColors(colorDisabled)

			logLevel := cfg.LogLevel
			if logging.LogLevel.IsSet() {
				logLevel = logging.LogLevel.String()
			}
			logging.InitLogging(logLevel)

			if err := app.Initialize(cfg); err != nil {
				log.Fatalf("Failed to initialize application: %s", err)
			}
		},
	}

	cmd.PersistentFlags().
		StringVarP(&dataDir, "data-dir", "d", defaultDataDir, "Data directory for Skiff state and project workspaces")
	cmd.PersistentFlags().VarP(logging.LogLevel, "log-level", "l", "Set log verbosity level")
	cmd.PersistentFlags().VarP(output.NoColor, "no-color", "c", "Disable colored terminal output")

	cmd.AddCommand(project.NewCmdProject())
	cmd.AddCommand(server.NewCmdServer())
	cmd.AddCommand(fleet.NewCmdFleet())
	cmd.AddCommand(version.NewCmdVersion())
	return cmd
}
