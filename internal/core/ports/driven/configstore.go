package driven

import (
	"context"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// ConfigStore loads the runtime configuration.
type ConfigStore interface {
	// Load reads and validates the configuration from storage.
	// Returns a *domain.ConfigError naming the offending field.
	Load() error

	// Config returns the last successfully loaded configuration.
	Config() domain.Config

	// Accounts returns the configured accounts.
	Accounts() []domain.Account

	// Watch reloads the configuration whenever it changes until ctx is
	// cancelled. A reload that fails validation keeps the previous
	// configuration and is reported through onError.
	Watch(ctx context.Context, onError func(error)) error

	// Path returns the configuration file path.
	Path() string
}
