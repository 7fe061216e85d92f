package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/totp"
)

var codeCmd = &cobra.Command{
	Use:   "code [account]",
	Short: "Print the current one-time code for an account",
	Long: `Prints the one-time code casewatch would submit for an account right now,
and how long it stays valid. Defaults to the first configured account.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCode,
}

func init() {
	rootCmd.AddCommand(codeCmd)
}

func runCode(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, app)

	cfg := app.Config.Config()
	var account *domain.Account
	switch {
	case len(args) == 1:
		account, err = cfg.FindAccount(args[0])
		if err != nil {
			return err
		}
	case len(cfg.Accounts) > 0:
		account = &cfg.Accounts[0]
	default:
		return errors.New("no accounts configured")
	}

	now := app.Now()
	code, err := totp.Generate(account.TOTPSecret, now)
	if err != nil {
		return err
	}
	cmd.Printf("%s: %s (valid for %ds)\n", account.DisplayName(false), code, int(totp.Remaining(now).Seconds()))
	return nil
}
