package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/casewatch/internal/adapters/driving/report"
	"github.com/custodia-labs/casewatch/internal/core/domain"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [case]",
	Short: "Preview change detection with a synthetic update",
	Long: `Adds a synthetic event, notice and last-updated time to a case's stored
snapshot and shows the alert and changelog entry that would result.
Nothing is saved. Defaults to the first configured case.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, app)

	account, c, err := simulateTarget(app.Config.Config(), args)
	if err != nil {
		return err
	}

	now := app.Now()
	entry, err := app.History.Simulate(cmd.Context(), account.Key(c), now)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("no snapshot recorded for %s, run casewatch run first", c.Nickname)
	}
	if err != nil {
		return fmt.Errorf("simulate failed: %w", err)
	}

	out := cmd.OutOrStdout()
	styles := stylesFor(out)
	cmd.Println(styles.Title.Render("SIMULATION MODE - Testing change detection"))
	cmd.Printf("Simulating changes for: %s (%s)\n\n", c.Nickname, c.Number)

	if err := report.RenderChangeAlert(out, c, *entry, now, styles); err != nil {
		return err
	}

	cmd.Println()
	cmd.Println("Changelog entry that would be written:")
	if err := report.RenderChangelog(out, c, []domain.ChangeEntry{*entry}, now); err != nil {
		return err
	}
	cmd.Println(styles.Title.Render("SIMULATION COMPLETE - No changes were saved"))
	return nil
}

func simulateTarget(cfg domain.Config, args []string) (*domain.Account, domain.Case, error) {
	if len(args) == 1 {
		return cfg.FindCase(args[0])
	}
	for i := range cfg.Accounts {
		if len(cfg.Accounts[i].Cases) > 0 {
			return &cfg.Accounts[i], cfg.Accounts[i].Cases[0], nil
		}
	}
	return nil, domain.Case{}, errors.New("no cases configured")
}
