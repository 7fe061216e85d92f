package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/casewatch/internal/adapters/driving/report"
	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/core/ports/driving"
)

// Options are the global flags passed to the bootstrap.
type Options struct {
	ConfigPath string
	DataDir    string
	Ephemeral  bool
}

// App holds the services commands run against.
type App struct {
	// Config holds the accounts and runtime settings.
	Config driven.ConfigStore

	// Watcher performs runs.
	Watcher driving.CaseWatcher

	// History reads recorded case history.
	History driving.CaseHistory

	// Schedule reads watch mode task state and run logs.
	Schedule driving.ScheduleStatus

	// NewScheduler builds the scheduler for the watch command. Every
	// completed run is passed to onReport.
	NewScheduler func(onReport func(*domain.RunReport)) driving.Scheduler

	// Now is the clock used for relative times. Defaults to time.Now.
	Now func() time.Time

	// Close releases the app's resources.
	Close func() error
}

// Bootstrap builds the App for a command invocation.
type Bootstrap func(ctx context.Context, opts Options) (*App, error)

var bootstrap Bootstrap

// SetBootstrap sets how commands obtain their services.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// openApp builds the App from the global flags. The caller must call
// closeApp when done.
func openApp(cmd *cobra.Command) (*App, error) {
	if bootstrap == nil {
		return nil, errors.New("casewatch services not configured")
	}
	app, err := bootstrap(cmd.Context(), Options{
		ConfigPath: configPath,
		DataDir:    dataDir,
		Ephemeral:  ephemeral,
	})
	if err != nil {
		return nil, err
	}
	if app.Now == nil {
		app.Now = time.Now
	}
	return app, nil
}

func closeApp(cmd *cobra.Command, app *App) {
	if app.Close == nil {
		return
	}
	if err := app.Close(); err != nil {
		cmd.PrintErrf("Warning: %v\n", err)
	}
}

// stylesFor returns coloured styles when w is a terminal.
func stylesFor(w io.Writer) *report.Styles {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return report.DefaultStyles()
	}
	return report.PlainStyles()
}
