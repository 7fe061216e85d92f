package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/casewatch/internal/adapters/driving/report"
	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driving"
)

var (
	runDryRun    bool
	runNoSummary bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check every tracked case once",
	Long: `Signs in to each configured account, fetches every tracked case and
records any change in the case history. The summary table is printed
afterwards with changed cases highlighted.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "check for changes without saving")
	runCmd.Flags().BoolVar(&runNoSummary, "no-summary", false, "skip the summary table")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, app)

	cfg := app.Config.Config()
	result, err := app.Watcher.Run(cmd.Context(), cfg.Accounts, driving.RunOptions{DryRun: runDryRun})
	if result != nil {
		styles := stylesFor(cmd.OutOrStdout())
		if renderErr := report.RenderRunReport(cmd.OutOrStdout(), result, app.Now(), styles); renderErr != nil {
			return renderErr
		}
		if !runNoSummary {
			opts := report.SummaryOptions{Changed: result.Changed()}
			if sumErr := printSummary(cmd, app, opts, dryRunPreview(result)); sumErr != nil {
				return sumErr
			}
		}
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if errored := result.Count(domain.OutcomeErrored); errored > 0 {
		return fmt.Errorf("%d case(s) could not be checked", errored)
	}
	return nil
}

// dryRunPreview collects the unsaved entries of a dry run by case. It is nil
// for runs that wrote their changes.
func dryRunPreview(result *domain.RunReport) map[domain.CaseKey]domain.ChangeEntry {
	if !result.DryRun {
		return nil
	}
	preview := make(map[domain.CaseKey]domain.ChangeEntry)
	for _, account := range result.Accounts {
		for _, c := range account.Cases {
			if c.Entry != nil {
				preview[c.Key] = *c.Entry
			}
		}
	}
	return preview
}
