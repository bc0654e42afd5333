// Package output provides functions to print messages with optional color
// formatting.
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/skiff-cd/skiff/domain"
	"github.com/spf13/cobra"
)

const (
	Plain   = color.FgWhite
	Success = color.FgGreen
	Warning = color.FgYellow
	Error   = color.FgRed
)

var maybeColorize func(kind color.Attribute, tmpl string, a ...any) string

// InitColors sets up color functions based on environment
func InitColors(isColorDisabled bool) {
	if color.NoColor || isColorDisabled {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return fmt.Sprintf(tmpl, a...)
		}
	} else {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return color.New(kind).SprintfFunc()(tmpl, a...)
		}
	}
}

// PrintMessage formats a message with color (if enabled) and returns it
func PrintMessage(kind color.Attribute, tmpl string, a ...any) string {
	if maybeColorize == nil || kind == Plain {
		return fmt.Sprintf(tmpl+"\n", a...)
	}
	return fmt.Sprintln(maybeColorize(kind, tmpl, a...))
}

func fprint(cmd *cobra.Command, kind color.Attribute, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), PrintMessage(kind, tmpl, a...))
	return err
}

func FprintPlain(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Plain, tmpl, a...)
}

func FprintSuccess(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Success, tmpl, a...)
}

func FprintWarning(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Warning, tmpl, a...)
}

func FprintError(cmd *cobra.Command, tmpl string, a ...any) error {
	return fprint(cmd, Error, tmpl, a...)
}

func PrintTable(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{PerColumn: []tw.Align{tw.AlignRight, tw.AlignLeft}},
			},
		}))

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

func PrintProjectDetails(project *domain.Project, short bool) (string, error) {
	data := [][]string{
		{"ID", project.ID},
		{"Name", project.Name},
		{"Deploy Method", string(project.DeployMethod)},
		{"Directory", project.Directory},
	}

	if !short {
		port := ""
		if project.Port != nil {
			port = fmt.Sprintf("%d", *project.Port)
		}
		data = append(data, [][]string{
			{"Repo URL", project.RepoURL},
			{"Branch", project.Branch},
			{"Entry File", project.EntryFile},
			{"Build Command", project.BuildCommand},
			{"Port", port},
			{"Process Name", project.SupervisorName()},
		}...)
	}

	data = append(data, []string{"Last Deploy Status", project.LastDeployStatus})

	if !short {
		data = append(data, [][]string{
			{"Running Commit", project.RunningCommit},
			{"Created At", project.CreatedAt.Format("2006-01-02 15:04:05")},
			{"Updated At", project.UpdatedAt.Format("2006-01-02 15:04:05")},
		}...)
	}

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing project details table: %w", err)
	}
	return table, nil
}

func PrintProjectList(projects []*domain.Project) (string, error) {
	if len(projects) == 0 {
		return PrintMessage(Plain, "No projects found."), nil
	}

	header := []string{"ID", "Name", "Method", "Port", "Status", "Running Commit"}
	var data [][]string
	for _, project := range projects {
		port := "-"
		if project.Port != nil {
			port = fmt.Sprintf("%d", *project.Port)
		}
		status := project.LastDeployStatus
		if status == "" {
			status = "-"
		}
		commit := project.RunningCommit
		if commit == "" {
			commit = "-"
		}
		data = append(data, []string{
			project.ID,
			project.Name,
			string(project.DeployMethod),
			port,
			status,
			commit,
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing project list table: %w", err)
	}
	return table, nil
}

func PrintDeploymentList(deployments []*domain.Deployment) (string, error) {
	if len(deployments) == 0 {
		return PrintMessage(Plain, "No deployments found."), nil
	}

	header := []string{"ID", "Status", "Commit", "Trigger", "Started At", "Duration"}
	var data [][]string
	for _, d := range deployments {
		commit := d.Commit
		if commit == "" {
			commit = "-"
		}
		trigger := string(d.TriggeredBy)
		if machineID, ok := d.TriggeredBy.IsSync(); ok {
			trigger = "sync from " + machineID
		}
		data = append(data, []string{
			d.ID.String(),
			d.Status.String(),
			commit,
			trigger,
			d.StartedAt.Format("2006-01-02 15:04:05"),
			d.Duration.Round(time.Millisecond).String(),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing deployment list table: %w", err)
	}
	return table, nil
}

func PrintFleet(machines []*domain.MachineHeartbeat, leaderID string) (string, error) {
	if len(machines) == 0 {
		return PrintMessage(Plain, "No machines visible."), nil
	}

	header := []string{"Machine", "Status", "Last Seen", "Uptime", "Processes"}
	var data [][]string
	for _, m := range machines {
		name := m.MachineID
		if m.MachineID == leaderID {
			name += " (leader)"
		}
		data = append(data, []string{
			name,
			m.Status,
			m.LastSeen.Format("2006-01-02 15:04:05"),
			(time.Duration(m.UptimeSec) * time.Second).String(),
			fmt.Sprintf("%d/%d online", m.Online, m.Total),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing fleet table: %w", err)
	}
	return table, nil
}

// CLI flag for disabling color output

// NoColor is a flag that can be used to disable colored output in the CLI.
var NoColor = &noColorFlag{set: false}

type noColorFlag struct {
	set bool
}

func (f *noColorFlag) Set(value string) error {
	f.set = true
	return nil
}

func (f *noColorFlag) String() string {
	if f.set {
		return "true"
	}
	return "false"
}

func (f *noColorFlag) Type() string {
	return "bool"
}

// IsSet returns true if the --no-color flag was explicitly set
func (f *noColorFlag) IsSet() bool {
	return f.set
}

// IsBoolFlag tells pflag this is a boolean flag (no argument required)
func (f *noColorFlag) IsBoolFlag() bool {
	return true
}
