package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/totp"
)

var errTransport = errors.New("connection reset")

func TestSessionManager_EnsureSession_CachesActiveSession(t *testing.T) {
	portal := &mockPortal{}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))
	account := testAccount("John")

	first, err := mgr.EnsureSession(context.Background(), account)
	require.NoError(t, err)
	second, err := mgr.EnsureSession(context.Background(), account)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, portal.begins)
	assert.Equal(t, []string{"code-1"}, portal.submitted)

	state := mgr.State(account)
	assert.Equal(t, domain.SessionActive, state.State)
	assert.Equal(t, 1, state.Logins)
	assert.Equal(t, time.Unix(59, 0), state.AuthenticatedAt)
}

func TestSessionManager_InitialState(t *testing.T) {
	mgr := NewSessionManager(&mockPortal{}, SessionConfig{})

	state := mgr.State(testAccount("John"))
	assert.Equal(t, domain.SessionUnauthenticated, state.State)
	assert.Equal(t, "John", state.Account)
}

func TestSessionManager_CodeRejected_RetriesWithPreviousInterval(t *testing.T) {
	// Clock does not advance, so the retry uses the previous interval.
	portal := &mockPortal{submitErrs: []error{domain.ErrCodeRejected}}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))

	_, err := mgr.EnsureSession(context.Background(), testAccount("John"))
	require.NoError(t, err)

	assert.Equal(t, []string{"code-1", "code-0"}, portal.submitted)
	assert.Equal(t, 1, portal.begins)
}

func TestSessionManager_CodeRejected_RetriesWithFreshCode(t *testing.T) {
	times := []time.Time{time.Unix(59, 0), time.Unix(61, 0)}
	clock := func() time.Time {
		now := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return now
	}
	portal := &mockPortal{submitErrs: []error{domain.ErrCodeRejected}}
	mgr := NewSessionManager(portal, testSessionConfig(clock))

	_, err := mgr.EnsureSession(context.Background(), testAccount("John"))
	require.NoError(t, err)

	assert.Equal(t, []string{"code-1", "code-2"}, portal.submitted)
}

func TestSessionManager_CodeRejectedTwice_AuthenticationFailed(t *testing.T) {
	portal := &mockPortal{submitErrs: []error{domain.ErrCodeRejected, domain.ErrCodeRejected}}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))
	account := testAccount("John")

	_, err := mgr.EnsureSession(context.Background(), account)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Equal(t, 1, portal.begins, "rejections are not retried")
	assert.Len(t, portal.submitted, 2)
	assert.Equal(t, 1, portal.abandoned)
	assert.Equal(t, domain.SessionUnauthenticated, mgr.State(account).State)
}

func TestSessionManager_CredentialsRejected(t *testing.T) {
	portal := &mockPortal{beginErrs: []error{domain.ErrCredentialsRejected}}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))

	_, err := mgr.EnsureSession(context.Background(), testAccount("John"))

	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.ErrorIs(t, err, domain.ErrCredentialsRejected)
	assert.Equal(t, 1, portal.begins)
	assert.Empty(t, portal.submitted)
}

func TestSessionManager_TransportFailure_RetriedWithBackoff(t *testing.T) {
	portal := &mockPortal{beginErrs: []error{errTransport, errTransport}}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))

	session, err := mgr.EnsureSession(context.Background(), testAccount("John"))

	require.NoError(t, err)
	assert.NotNil(t, session)
	assert.Equal(t, 3, portal.begins)
}

func TestSessionManager_TransportFailure_Exhausted(t *testing.T) {
	portal := &mockPortal{beginErrs: []error{errTransport, errTransport, errTransport, nil}}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))

	_, err := mgr.EnsureSession(context.Background(), testAccount("John"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthenticationUnavailable)
	assert.ErrorIs(t, err, errTransport)
	assert.NotErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Equal(t, 3, portal.begins)
}

func TestSessionManager_SubmitTransportFailure_AbandonsChallenge(t *testing.T) {
	portal := &mockPortal{submitErrs: []error{errTransport}}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))

	_, err := mgr.EnsureSession(context.Background(), testAccount("John"))

	require.NoError(t, err)
	assert.Equal(t, 2, portal.begins)
	assert.Equal(t, 1, portal.abandoned)
}

func TestSessionManager_InvalidSecret(t *testing.T) {
	portal := &mockPortal{}
	mgr := NewSessionManager(portal, SessionConfig{
		Clock: fixedClock(time.Unix(59, 0)),
		Code:  totp.Generate,
	})
	account := testAccount("John")
	account.TOTPSecret = "not base32!"

	_, err := mgr.EnsureSession(context.Background(), account)

	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidSecret)
	assert.Equal(t, 1, portal.begins)
	assert.Equal(t, 1, portal.abandoned)
}

func TestSessionManager_ContextCancelled(t *testing.T) {
	portal := &mockPortal{}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.EnsureSession(ctx, testAccount("John"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, portal.submitted)
}

func TestSessionManager_MarkExpired_ReauthenticatesAndClosesStale(t *testing.T) {
	portal := &mockPortal{}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))
	account := testAccount("John")
	ctx := context.Background()

	first, err := mgr.EnsureSession(ctx, account)
	require.NoError(t, err)

	mgr.MarkExpired(account)
	assert.Equal(t, domain.SessionExpired, mgr.State(account).State)
	assert.Equal(t, time.Unix(59, 0), mgr.State(account).ExpiredAt)

	second, err := mgr.EnsureSession(ctx, account)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.True(t, first.(*mockPortalSession).closed)
	assert.Equal(t, 2, portal.begins)
	assert.Equal(t, 2, mgr.State(account).Logins)
	assert.Equal(t, domain.SessionActive, mgr.State(account).State)
}

func TestSessionManager_MarkExpired_IgnoredWhenNotActive(t *testing.T) {
	mgr := NewSessionManager(&mockPortal{}, testSessionConfig(fixedClock(time.Unix(59, 0))))
	account := testAccount("John")

	mgr.MarkExpired(account)

	assert.Equal(t, domain.SessionUnauthenticated, mgr.State(account).State)
}

func TestSessionManager_ExpiredStaysExpiredOnFailedLogin(t *testing.T) {
	portal := &mockPortal{}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))
	account := testAccount("John")
	ctx := context.Background()

	_, err := mgr.EnsureSession(ctx, account)
	require.NoError(t, err)
	mgr.MarkExpired(account)

	portal.beginErrs = []error{domain.ErrCredentialsRejected}
	_, err = mgr.EnsureSession(ctx, account)

	require.Error(t, err)
	assert.Equal(t, domain.SessionExpired, mgr.State(account).State)
}

func TestSessionManager_AccountsAreIndependent(t *testing.T) {
	portal := &mockPortal{}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))
	ctx := context.Background()
	john, jane := testAccount("John"), testAccount("Jane")

	_, err := mgr.EnsureSession(ctx, john)
	require.NoError(t, err)
	_, err = mgr.EnsureSession(ctx, jane)
	require.NoError(t, err)

	mgr.MarkExpired(john)

	assert.Equal(t, domain.SessionExpired, mgr.State(john).State)
	assert.Equal(t, domain.SessionActive, mgr.State(jane).State)
}

func TestSessionManager_Close(t *testing.T) {
	portal := &mockPortal{}
	mgr := NewSessionManager(portal, testSessionConfig(fixedClock(time.Unix(59, 0))))
	account := testAccount("John")

	session, err := mgr.EnsureSession(context.Background(), account)
	require.NoError(t, err)

	require.NoError(t, mgr.Close())
	assert.True(t, session.(*mockPortalSession).closed)
	assert.Equal(t, domain.SessionUnauthenticated, mgr.State(account).State)
}

func TestSessionManager_CodeRejected_NoAlternativeInWindow(t *testing.T) {
	portal := &mockPortal{submitErrs: []error{domain.ErrCodeRejected}}
	cfg := testSessionConfig(fixedClock(time.Unix(59, 0)))
	cfg.Code = func(string, time.Time) (string, error) { return "000000", nil }
	mgr := NewSessionManager(portal, cfg)

	_, err := mgr.EnsureSession(context.Background(), testAccount("John"))

	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Equal(t, []string{"000000"}, portal.submitted)
	assert.Equal(t, 1, portal.abandoned)
}
