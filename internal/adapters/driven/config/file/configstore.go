package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/logger"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// configNames are tried in order when no explicit path is given.
var configNames = []string{"config.toml", "config.yaml", "config.yml", "config.json"}

// ConfigStore is a file-based implementation of driven.ConfigStore.
// The format follows the file extension: .toml is decoded as TOML,
// .yaml, .yml and .json as YAML.
type ConfigStore struct {
	mu       sync.RWMutex
	filePath string
	cfg      domain.Config
}

// NewConfigStore creates a config store and loads the file at path.
// If path is empty, the first existing config file under ~/.casewatch is
// used, defaulting to ~/.casewatch/config.toml.
func NewConfigStore(path string) (*ConfigStore, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	s := &ConfigStore{filePath: path}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".casewatch")
	for _, name := range configNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return filepath.Join(dir, configNames[0]), nil
}

// Load reads and validates the configuration file. On failure the
// previously loaded configuration is kept.
func (s *ConfigStore) Load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.ConfigError{Field: s.filePath, Reason: "config file not found"}
		}
		return err
	}

	cfg, err := Parse(data, filepath.Ext(s.filePath))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = *cfg
	s.mu.Unlock()
	return nil
}

// Config returns the last successfully loaded configuration.
func (s *ConfigStore) Config() domain.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Accounts returns the configured accounts.
func (s *ConfigStore) Accounts() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Account(nil), s.cfg.Accounts...)
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}

// Watch reloads the configuration when the file is written or replaced.
// The parent directory is watched so editors that save by rename are seen.
func (s *ConfigStore) Watch(ctx context.Context, onError func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	report := func(err error) {
		logger.Warn("config reload failed: %v", err)
		if onError != nil {
			onError(err)
		}
	}

	target := filepath.Clean(s.filePath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Load(); err != nil {
				report(err)
				continue
			}
			logger.Info("configuration reloaded from %s", s.filePath)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			report(err)
		}
	}
}

// Parse decodes and validates configuration data. ext selects the format.
func Parse(data []byte, ext string) (*domain.Config, error) {
	var raw fileConfig
	switch strings.ToLower(ext) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, decodeError(err)
		}
	case ".yaml", ".yml", ".json":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, decodeError(err)
		}
	default:
		return nil, &domain.ConfigError{Field: "file", Reason: fmt.Sprintf("unsupported config format %q", ext)}
	}

	cfg, err := raw.toDomain()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeError(err error) error {
	return &domain.ConfigError{Field: "file", Reason: err.Error()}
}

// fileConfig is the on-disk layout.
type fileConfig struct {
	Browser  browserSection   `toml:"browser" yaml:"browser"`
	Portal   portalSection    `toml:"portal" yaml:"portal"`
	Schedule scheduleSection  `toml:"schedule" yaml:"schedule"`
	Accounts []accountSection `toml:"accounts" yaml:"accounts"`
}

type browserSection struct {
	Headless  *bool  `toml:"headless" yaml:"headless"`
	RemoteURL string `toml:"remote_url" yaml:"remote_url"`
	Timeout   string `toml:"timeout" yaml:"timeout"`
}

type portalSection struct {
	SignInURL         string `toml:"sign_in_url" yaml:"sign_in_url"`
	BaseURL           string `toml:"base_url" yaml:"base_url"`
	RequestsPerMinute *int   `toml:"requests_per_minute" yaml:"requests_per_minute"`
}

type scheduleSection struct {
	Interval string `toml:"interval" yaml:"interval"`
}

type accountSection struct {
	Name       string        `toml:"name" yaml:"name"`
	AnonName   string        `toml:"anon_name" yaml:"anon_name"`
	Username   string        `toml:"username" yaml:"username"`
	Password   string        `toml:"password" yaml:"password"`
	TOTPSecret string        `toml:"totp_secret" yaml:"totp_secret"`
	Cases      []caseSection `toml:"cases" yaml:"cases"`
}

type caseSection struct {
	CaseNumber string `toml:"case_number" yaml:"case_number"`
	Nickname   string `toml:"nickname" yaml:"nickname"`
}

// toDomain applies defaults for omitted fields.
func (f *fileConfig) toDomain() (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if f.Browser.Headless != nil {
		cfg.Browser.Headless = *f.Browser.Headless
	}
	cfg.Browser.RemoteURL = f.Browser.RemoteURL
	if f.Browser.Timeout != "" {
		d, err := parseDuration("browser.timeout", f.Browser.Timeout)
		if err != nil {
			return nil, err
		}
		cfg.Browser.Timeout = d
	}

	if f.Portal.SignInURL != "" {
		cfg.Portal.SignInURL = strings.TrimRight(f.Portal.SignInURL, "/")
	}
	if f.Portal.BaseURL != "" {
		cfg.Portal.BaseURL = strings.TrimRight(f.Portal.BaseURL, "/")
	}
	if f.Portal.RequestsPerMinute != nil {
		cfg.Portal.RequestsPerMinute = float64(*f.Portal.RequestsPerMinute)
	}

	if f.Schedule.Interval != "" {
		d, err := parseDuration("schedule.interval", f.Schedule.Interval)
		if err != nil {
			return nil, err
		}
		cfg.Schedule.Interval = d
	}

	cfg.Accounts = make([]domain.Account, 0, len(f.Accounts))
	for _, a := range f.Accounts {
		account := domain.Account{
			Name:       strings.TrimSpace(a.Name),
			AnonName:   strings.TrimSpace(a.AnonName),
			Username:   a.Username,
			Password:   a.Password,
			TOTPSecret: a.TOTPSecret,
		}
		for _, c := range a.Cases {
			account.Cases = append(account.Cases, domain.Case{
				Number:   strings.TrimSpace(c.CaseNumber),
				Nickname: strings.TrimSpace(c.Nickname),
			})
		}
		cfg.Accounts = append(cfg.Accounts, account)
	}
	return &cfg, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &domain.ConfigError{Field: field, Reason: fmt.Sprintf("invalid duration %q", value)}
	}
	return d, nil
}
