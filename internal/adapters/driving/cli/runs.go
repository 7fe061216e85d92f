package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/casewatch/internal/adapters/driving/report"
)

const defaultRunsLimit = 10

var runsLimit = defaultRunsLimit

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show watch mode schedule and recent runs",
	Long: `Shows when the next scheduled check is due, how the last one went, and
a log of recent scheduled runs with their case tallies.`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", defaultRunsLimit, "number of recent runs to show per task")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, app)

	ctx := cmd.Context()
	tasks, err := app.Schedule.Tasks(ctx)
	if err != nil {
		return err
	}

	statuses := make([]report.TaskStatus, 0, len(tasks))
	for _, task := range tasks {
		results, err := app.Schedule.Results(ctx, task.ID, runsLimit)
		if err != nil {
			return fmt.Errorf("%s: %w", task.ID, err)
		}
		statuses = append(statuses, report.TaskStatus{Task: task, Results: results})
	}

	out := cmd.OutOrStdout()
	return report.RenderSchedule(out, statuses, app.Now(), stylesFor(out))
}
