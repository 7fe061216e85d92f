package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/logger"
	"github.com/custodia-labs/casewatch/internal/totp"
)

// SessionConfig tunes authentication retries.
type SessionConfig struct {
	// MaxAttempts bounds logins attempted after transport failures.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Code generates a one-time code. Defaults to totp.Generate.
	Code totp.Generator
}

// DefaultSessionConfig returns the production retry settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Clock:          time.Now,
		Code:           totp.Generate,
	}
}

// SessionManager owns one authenticated portal session per account.
// Expiry is never predicted; a caller reports it with MarkExpired after the
// portal rejects a request, and the next EnsureSession logs in again.
type SessionManager struct {
	portal driven.Portal
	cfg    SessionConfig

	mu       sync.Mutex
	sessions map[string]*managedSession
}

type managedSession struct {
	info domain.Session
	conn driven.PortalSession
}

// NewSessionManager creates a session manager. A zero MaxAttempts, Clock
// or Code takes its default.
func NewSessionManager(portal driven.Portal, cfg SessionConfig) *SessionManager {
	def := DefaultSessionConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff < 0 {
		cfg.InitialBackoff = 0
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Code == nil {
		cfg.Code = def.Code
	}
	return &SessionManager{
		portal:   portal,
		cfg:      cfg,
		sessions: make(map[string]*managedSession),
	}
}

// EnsureSession returns a usable session for the account, logging in when
// none is active.
//
// Returns an error wrapping domain.ErrAuthenticationFailed when the portal
// refuses the credentials or both one-time codes, or
// domain.ErrAuthenticationUnavailable when transport failures persist.
func (m *SessionManager) EnsureSession(ctx context.Context, account domain.Account) (driven.PortalSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.lookup(account)
	if s.info.State == domain.SessionActive && s.conn != nil {
		return s.conn, nil
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			logger.Debug("session %s: closing stale session: %v", s.info.Account, err)
		}
		s.conn = nil
	}

	previous := s.info.State
	s.info.State = domain.SessionAuthenticating
	logger.Info("Authenticating %s", s.info.Account)

	conn, err := m.authenticate(ctx, account)
	if err != nil {
		if previous == domain.SessionExpired {
			s.info.State = domain.SessionExpired
		} else {
			s.info.State = domain.SessionUnauthenticated
		}
		return nil, err
	}

	s.conn = conn
	s.info.State = domain.SessionActive
	s.info.AuthenticatedAt = m.cfg.Clock()
	s.info.Logins++
	return conn, nil
}

// MarkExpired records that the account's session was rejected.
// Has no effect unless the session is active.
func (m *SessionManager) MarkExpired(account domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.lookup(account)
	if s.info.State != domain.SessionActive {
		return
	}
	s.info.State = domain.SessionExpired
	s.info.ExpiredAt = m.cfg.Clock()
	logger.Debug("session %s: marked expired", s.info.Account)
}

// State returns a copy of the account's session metadata.
func (m *SessionManager) State(account domain.Account) domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(account).info
}

// Close ends every open session.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, s := range m.sessions {
		if s.conn == nil {
			continue
		}
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", name, err))
		}
		s.conn = nil
		s.info.State = domain.SessionUnauthenticated
	}
	return errors.Join(errs...)
}

func (m *SessionManager) lookup(account domain.Account) *managedSession {
	name := account.DisplayName(false)
	s, ok := m.sessions[name]
	if !ok {
		s = &managedSession{info: domain.Session{Account: name}}
		m.sessions[name] = s
	}
	return s
}

// authenticate retries the full login while failures are transport
// failures. Rejections stop immediately.
func (m *SessionManager) authenticate(ctx context.Context, account domain.Account) (driven.PortalSession, error) {
	name := account.DisplayName(false)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.InitialBackoff
	bo.MaxInterval = m.cfg.MaxBackoff

	attempts := 0
	conn, err := backoff.Retry(ctx, func() (driven.PortalSession, error) {
		attempts++
		conn, err := m.login(ctx, account)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, domain.ErrAuthenticationFailed) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(m.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("login %s failed, retrying in %s: %v", name, next, err)
		}),
	)
	if err == nil {
		return conn, nil
	}

	switch {
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w: %s after %d attempts: %w",
			domain.ErrAuthenticationUnavailable, name, attempts, err)
	}
}

// login performs one credential step and up to two one-time-code attempts.
func (m *SessionManager) login(ctx context.Context, account domain.Account) (driven.PortalSession, error) {
	challenge, err := m.portal.BeginLogin(ctx, account)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialsRejected) {
			return nil, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, err)
		}
		return nil, err
	}

	code, err := m.cfg.Code(account.TOTPSecret, m.cfg.Clock())
	if err != nil {
		abandon(challenge)
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, err)
	}

	conn, err := challenge.SubmitCode(ctx, code)
	if err == nil {
		return conn, nil
	}
	if !errors.Is(err, domain.ErrCodeRejected) {
		abandon(challenge)
		return nil, err
	}

	logger.Debug("login %s: one-time code rejected, retrying", account.DisplayName(false))
	retry, err := m.retryCode(account.TOTPSecret, code)
	if err != nil {
		abandon(challenge)
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, err)
	}

	conn, err = challenge.SubmitCode(ctx, retry)
	if err == nil {
		return conn, nil
	}
	abandon(challenge)
	if errors.Is(err, domain.ErrCodeRejected) {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, err)
	}
	return nil, err
}

// retryCode picks the first code of the drift window around now that is
// not the rejected one: the fresh code once the interval has rolled over,
// otherwise the previous interval's code.
func (m *SessionManager) retryCode(secret string, rejected string) (string, error) {
	codes, err := m.cfg.Code.Window(secret, m.cfg.Clock(), totp.MaxSkew)
	if err != nil {
		return "", err
	}
	for _, code := range codes {
		if code != rejected {
			return code, nil
		}
	}
	return "", fmt.Errorf("no alternative one-time code near %s", m.cfg.Clock().Format(time.RFC3339))
}

func abandon(challenge driven.LoginChallenge) {
	if err := challenge.Abandon(); err != nil {
		logger.Debug("abandon login: %v", err)
	}
}
