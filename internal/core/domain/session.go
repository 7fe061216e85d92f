package domain

import "time"

// SessionState is the lifecycle position of an account's portal session.
type SessionState int

const (
	// SessionUnauthenticated is the state at process start.
	SessionUnauthenticated SessionState = iota

	// SessionAuthenticating means a login is underway.
	SessionAuthenticating

	// SessionActive means the cached session is believed usable.
	SessionActive

	// SessionExpired means a fetch observed the session was rejected.
	SessionExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionUnauthenticated:
		return "unauthenticated"
	case SessionAuthenticating:
		return "authenticating"
	case SessionActive:
		return "active"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Session describes the authenticated context for one account.
// Expiry is implicit and only detected reactively.
type Session struct {
	// Account is the owning account name.
	Account string

	// State is the current lifecycle state.
	State SessionState

	// AuthenticatedAt is when the session last became active.
	AuthenticatedAt time.Time

	// ExpiredAt is when the session was last marked expired.
	ExpiredAt time.Time

	// Logins counts completed authentications this process.
	Logins int
}
