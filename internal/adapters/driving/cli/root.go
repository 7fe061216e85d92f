package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/casewatch/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	verbose    bool
	configPath string
	dataDir    string
	ephemeral  bool
)

var rootCmd = &cobra.Command{
	Use:   "casewatch",
	Short: "Watch immigration cases for status changes",
	Long: `casewatch signs in to the case-tracking portal for each configured account,
fetches the status of every tracked case, and records what changed since the
last check in an append-only history.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
		logger.SetOutput(cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.casewatch/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.casewatch/data)")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "keep history in memory only")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with a context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
