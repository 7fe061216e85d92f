package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/casewatch/internal/adapters/driving/report"
	"github.com/custodia-labs/casewatch/internal/core/domain"
)

var (
	summaryAnon            bool
	summaryShowDates       bool
	summaryDaysSinceFiling bool
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show every tracked case grouped by form type",
	Long: `Prints one table per form type. Each column is an event code (or a
silent update) and each cell shows how many days ago it happened.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().BoolVar(&summaryAnon, "anon", false, "use anonymised names from config")
	summaryCmd.Flags().BoolVar(&summaryShowDates, "show-dates", false, "show dates (M/D) instead of days")
	summaryCmd.Flags().BoolVar(&summaryDaysSinceFiling, "days-since-filing", false,
		"count days from the filing event instead of today")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, app)

	return printSummary(cmd, app, report.SummaryOptions{}, nil)
}

// printSummary renders the summary of every configured case that has a
// recorded snapshot. Display flags come from the summary command. Entries
// in preview stand in for unsaved dry run results and take the place of the
// stored snapshot of their case.
func printSummary(cmd *cobra.Command, app *App, opts report.SummaryOptions, preview map[domain.CaseKey]domain.ChangeEntry) error {
	ctx := cmd.Context()
	opts.Anon = summaryAnon
	opts.ShowDates = summaryShowDates
	opts.DaysSinceFiling = summaryDaysSinceFiling
	opts.Now = app.Now()

	var cases []report.CaseSummary
	for _, account := range app.Config.Accounts() {
		for _, c := range account.Cases {
			key := account.Key(c)
			pending, previewed := preview[key]
			latest, err := app.History.Latest(ctx, key)
			switch {
			case errors.Is(err, domain.ErrNotFound) && !previewed:
				continue
			case err != nil && !errors.Is(err, domain.ErrNotFound):
				return fmt.Errorf("read %s: %w", key, err)
			}
			var entries []domain.ChangeEntry
			if latest != nil {
				if entries, err = app.History.History(ctx, key); err != nil {
					return fmt.Errorf("read history for %s: %w", key, err)
				}
			}
			if previewed {
				snap := pending.Snapshot()
				latest = &snap
				entries = append(entries, pending)
			}
			cases = append(cases, report.CaseSummary{
				Account:       account,
				Case:          c,
				Snapshot:      *latest,
				SilentUpdates: report.SilentUpdates(entries),
			})
		}
	}

	return report.RenderSummary(cmd.OutOrStdout(), cases, opts, stylesFor(cmd.OutOrStdout()))
}
