package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/casewatch/internal/adapters/driving/report"
	"github.com/custodia-labs/casewatch/internal/core/domain"
)

var (
	historyExportDir string
	historyVerify    bool
)

var historyCmd = &cobra.Command{
	Use:   "history [case]",
	Short: "Show the change history of a case",
	Long: `Prints a case's change history as a markdown document. The case may be
given by receipt number or nickname.

With --export DIR, writes DIR/<nickname>/changelog.md and latest.json for the
case, or for every tracked case when none is given. With --verify, checks that
replaying the history reproduces the stored snapshot.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyExportDir, "export", "", "write changelog.md and latest.json under this directory")
	historyCmd.Flags().BoolVar(&historyVerify, "verify", false, "verify the history replays to the stored snapshot")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && historyExportDir == "" && !historyVerify {
		return errors.New("a case is required unless --export or --verify is given")
	}

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, app)

	targets, err := historyTargets(app, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	for _, target := range targets {
		switch {
		case historyVerify:
			if err := verifyHistory(ctx, cmd, app, target); err != nil {
				return err
			}
		case historyExportDir != "":
			if err := exportHistory(ctx, cmd, app, target); err != nil {
				return err
			}
		default:
			entries, err := app.History.History(ctx, target.key)
			if err != nil {
				return fmt.Errorf("read history for %s: %w", target.key, err)
			}
			if len(entries) == 0 {
				cmd.Printf("No history recorded for %s.\n", target.c.Nickname)
				continue
			}
			if err := report.RenderChangelog(cmd.OutOrStdout(), target.c, entries, app.Now()); err != nil {
				return err
			}
		}
	}
	return nil
}

// caseTarget is a configured case and its storage key.
type caseTarget struct {
	key domain.CaseKey
	c   domain.Case
}

func historyTargets(app *App, args []string) ([]caseTarget, error) {
	cfg := app.Config.Config()
	if len(args) == 1 {
		account, c, err := cfg.FindCase(args[0])
		if err != nil {
			return nil, err
		}
		return []caseTarget{{key: account.Key(c), c: c}}, nil
	}

	var targets []caseTarget
	for _, account := range cfg.Accounts {
		for _, c := range account.Cases {
			targets = append(targets, caseTarget{key: account.Key(c), c: c})
		}
	}
	return targets, nil
}

func verifyHistory(ctx context.Context, cmd *cobra.Command, app *App, target caseTarget) error {
	err := app.History.Verify(ctx, target.key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		cmd.Printf("%s: no history recorded\n", target.c.Nickname)
		return nil
	case err != nil:
		return fmt.Errorf("verify %s: %w", target.c.Nickname, err)
	}
	cmd.Printf("%s: history replays to the stored snapshot\n", target.c.Nickname)
	return nil
}

func exportHistory(ctx context.Context, cmd *cobra.Command, app *App, target caseTarget) error {
	entries, err := app.History.History(ctx, target.key)
	if err != nil {
		return fmt.Errorf("read history for %s: %w", target.key, err)
	}
	if len(entries) == 0 {
		cmd.Printf("%s: no history recorded, skipped\n", target.c.Nickname)
		return nil
	}

	latest, err := app.History.Latest(ctx, target.key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("read %s: %w", target.key, err)
	}

	dir, err := report.Export(historyExportDir, target.c, latest, entries, app.Now())
	if err != nil {
		return fmt.Errorf("export %s: %w", target.c.Nickname, err)
	}
	cmd.Printf("%s: exported to %s\n", target.c.Nickname, dir)
	return nil
}
