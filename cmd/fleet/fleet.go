// Package fleet provides the fleet status command for Skiff.
package fleet

import (
	"fmt"

	"github.com/skiff-cd/skiff/app"
	"github.com/skiff-cd/skiff/cmd/output"
	"github.com/skiff-cd/skiff/cmd/utils"
	"github.com/skiff-cd/skiff/coordination"
	"github.com/spf13/cobra"
)

func NewCmdFleet() *cobra.Command {
	return &cobra.Command{
		Use:   "fleet",
		Short: "Show all machines in the fleet and their heartbeats",
		Run: func(cmd *cobra.Command, args []string) {
			a := app.Get()
			if !a.Config.CoordinationEnabled() {
				output.FprintWarning(cmd, "Coordination is not configured; this is a single-machine install.")
				return
			}

			monitor := coordination.NewHeartbeatMonitor(a.Store, a.Config.MachineID, a.Config.MonitorInterval, nil)
			machines, err := monitor.Fleet(cmd.Context())
			if err != nil {
				utils.HandleCommandError("listing fleet machines", err)
				return
			}

			leaderID := ""
			elector := coordination.NewElector(a.Store, a.Config.MachineID, a.Config.LeaderInterval*3, a.Config.LeaderInterval, nil, nil)
			if leader, err := elector.Leader(cmd.Context()); err == nil && leader != nil {
				leaderID = leader.MachineID
			}

			table, err := output.PrintFleet(machines, leaderID)
			if err != nil {
				utils.HandleCommandError("printing fleet table", err)
				return
			}
			fmt.Fprint(cmd.OutOrStdout(), table)
		},
	}
}
