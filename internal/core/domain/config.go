package domain

import (
	"fmt"
	"time"
)

// Config is the validated runtime configuration.
type Config struct {
	Browser  BrowserConfig
	Portal   PortalConfig
	Schedule ScheduleConfig
	Accounts []Account
}

// BrowserConfig controls the headless browser that reaches the portal.
type BrowserConfig struct {
	// Headless hides the browser window.
	Headless bool

	// RemoteURL connects to an existing browser's DevTools endpoint
	// instead of launching one.
	RemoteURL string

	// Timeout bounds each page interaction.
	Timeout time.Duration
}

// PortalConfig describes the case-tracking portal.
type PortalConfig struct {
	// SignInURL is the login page.
	SignInURL string

	// BaseURL is the authenticated portal origin.
	BaseURL string

	// RequestsPerMinute throttles case fetches. Zero disables throttling.
	RequestsPerMinute float64
}

// ScheduleConfig controls the watch command.
type ScheduleConfig struct {
	// Interval is the time between runs.
	Interval time.Duration
}

// DefaultConfig returns the configuration used when a field is omitted.
func DefaultConfig() Config {
	return Config{
		Browser: BrowserConfig{
			Headless: true,
			Timeout:  30 * time.Second,
		},
		Portal: PortalConfig{
			SignInURL:         "https://myaccount.uscis.gov/sign-in",
			BaseURL:           "https://my.uscis.gov",
			RequestsPerMinute: 20,
		},
		Schedule: ScheduleConfig{
			Interval: DefaultCheckInterval,
		},
	}
}

// Validate checks every account and rejects duplicate account names, which
// would share case histories.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return &ConfigError{Field: "accounts", Reason: "at least one account is required"}
	}
	if c.Browser.Timeout <= 0 {
		return &ConfigError{Field: "browser.timeout", Reason: "must be positive"}
	}
	if c.Schedule.Interval <= 0 {
		return &ConfigError{Field: "schedule.interval", Reason: "must be positive"}
	}
	if c.Portal.RequestsPerMinute < 0 {
		return &ConfigError{Field: "portal.requests_per_minute", Reason: "must not be negative"}
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		account := &c.Accounts[i]
		if err := account.Validate(i); err != nil {
			return err
		}
		name := account.DisplayName(false)
		if seen[name] {
			return &ConfigError{Field: fmt.Sprintf("accounts[%d].name", i), Reason: fmt.Sprintf("duplicate account %q", name)}
		}
		seen[name] = true
	}
	return nil
}

// SchedulerConfig returns the scheduler settings for the watch command.
func (c *Config) SchedulerConfig() SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.CheckInterval = c.Schedule.Interval
	return cfg
}

// FindAccount returns the account with the given display name.
func (c *Config) FindAccount(name string) (*Account, error) {
	for i := range c.Accounts {
		if c.Accounts[i].DisplayName(false) == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: account %q", ErrNotFound, name)
}

// FindCase returns the account and case whose nickname or number matches ref.
func (c *Config) FindCase(ref string) (*Account, Case, error) {
	for i := range c.Accounts {
		for _, cs := range c.Accounts[i].Cases {
			if cs.Number == ref || cs.Nickname == ref || Slug(cs.Nickname) == Slug(ref) {
				return &c.Accounts[i], cs, nil
			}
		}
	}
	return nil, Case{}, fmt.Errorf("%w: case %q", ErrNotFound, ref)
}
