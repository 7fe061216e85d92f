package driven

import (
	"context"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// Portal is the transport that reaches the case-tracking portal.
// Implementations deliver opaque case payloads and consume one-time codes;
// they never retry on their own.
type Portal interface {
	// BeginLogin submits the account credentials and returns the pending
	// second-factor step.
	// Returns domain.ErrCredentialsRejected if the portal refuses them.
	// Any other error is treated as a transport failure.
	BeginLogin(ctx context.Context, account domain.Account) (LoginChallenge, error)
}

// LoginChallenge is a login waiting for its one-time code.
type LoginChallenge interface {
	// SubmitCode completes the login.
	// Returns domain.ErrCodeRejected if the code is refused; the challenge
	// stays usable for another attempt.
	SubmitCode(ctx context.Context, code string) (PortalSession, error)

	// Abandon releases resources held by an unfinished login.
	Abandon() error
}

// PortalSession is a live authenticated context for one account.
// It is not safe for concurrent use.
type PortalSession interface {
	// FetchCase returns the raw status payload for a case.
	// Non-success responses are returned as *domain.PortalError so callers
	// can classify them; network failures wrap domain.ErrTransient.
	FetchCase(ctx context.Context, caseNumber string) ([]byte, error)

	// FetchReceiptInfo returns the raw receipt details for a case, which
	// carry its processing-center code. Errors follow FetchCase.
	FetchReceiptInfo(ctx context.Context, caseNumber string) ([]byte, error)

	// Close ends the session.
	Close() error
}
