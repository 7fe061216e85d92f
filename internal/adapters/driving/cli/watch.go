package cli

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/casewatch/internal/adapters/driving/report"
	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driving"
	"github.com/custodia-labs/casewatch/internal/logger"
)

var watchNow bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check cases on a schedule until interrupted",
	Long: `Runs a case check every schedule interval until interrupted. The config
file is reloaded when it changes, so accounts and cases can be edited
without restarting.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNow, "now", false, "run a check immediately before waiting")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, app)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	styles := stylesFor(out)
	var mu sync.Mutex
	printReport := func(r *domain.RunReport) {
		mu.Lock()
		defer mu.Unlock()
		if err := report.RenderRunReport(out, r, app.Now(), styles); err != nil {
			logger.Warn("render run report: %v", err)
		}
	}

	go func() {
		if err := app.Config.Watch(ctx, nil); err != nil {
			logger.Warn("config watch stopped: %v", err)
		}
	}()

	cfg := app.Config.Config()
	cmd.Printf("Watching %d account(s) every %s. Press Ctrl+C to stop.\n", len(cfg.Accounts), cfg.Schedule.Interval)

	if watchNow {
		result, err := app.Watcher.Run(ctx, app.Config.Accounts(), driving.RunOptions{})
		if result != nil {
			printReport(result)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("initial run: %v", err)
		}
	}

	scheduler := app.NewScheduler(printReport)
	err = scheduler.Start(ctx)
	if stopErr := scheduler.Stop(); stopErr != nil {
		logger.Warn("stop scheduler: %v", stopErr)
	}
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
