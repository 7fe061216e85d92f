package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/core/ports/driving"
	"github.com/custodia-labs/casewatch/internal/logger"
)

// Ensure RunOrchestrator implements the interface.
var _ driving.CaseWatcher = (*RunOrchestrator)(nil)

// sessionSource is the part of SessionManager the orchestrator uses.
type sessionSource interface {
	EnsureSession(ctx context.Context, account domain.Account) (driven.PortalSession, error)
	MarkExpired(account domain.Account)
}

// RunConfig tunes a run.
type RunConfig struct {
	// FetchRetries is how many times a transient fetch failure is retried.
	FetchRetries int

	// RetryDelay is the constant delay between fetch retries.
	RetryDelay time.Duration

	// LockStaleAfter is how old a held run lock must be before takeover.
	LockStaleAfter time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultRunConfig returns the production run settings.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		FetchRetries:   2,
		RetryDelay:     5 * time.Second,
		LockStaleAfter: 2 * time.Hour,
		Clock:          time.Now,
	}
}

// RunOrchestrator checks every case of every account, one at a time.
// A failure is attributed to the case or account it happened in and never
// stops the rest of the run.
type RunOrchestrator struct {
	sessions sessionSource
	fetcher  *CaseFetcher
	writer   *ChangelogWriter
	store    driven.SnapshotStore
	lock     driven.RunLock
	cfg      RunConfig

	mu      sync.Mutex
	running bool
}

// NewRunOrchestrator creates an orchestrator. lock may be nil when only
// the in-process guard is wanted.
func NewRunOrchestrator(
	sessions sessionSource,
	fetcher *CaseFetcher,
	writer *ChangelogWriter,
	store driven.SnapshotStore,
	lock driven.RunLock,
	cfg RunConfig,
) *RunOrchestrator {
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}
	if cfg.LockStaleAfter <= 0 {
		cfg.LockStaleAfter = DefaultRunConfig().LockStaleAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &RunOrchestrator{
		sessions: sessions,
		fetcher:  fetcher,
		writer:   writer,
		store:    store,
		lock:     lock,
		cfg:      cfg,
	}
}

// Running reports whether a run is in progress in this process.
func (o *RunOrchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Run checks every case and returns the report.
//
// The returned error is domain.ErrRunInProgress when another run holds the
// store, or the context error when the run was interrupted. Per-case and
// per-account failures are reported in the RunReport, not returned.
func (o *RunOrchestrator) Run(
	ctx context.Context,
	accounts []domain.Account,
	opts driving.RunOptions,
) (*domain.RunReport, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	report := &domain.RunReport{
		ID:        uuid.NewString(),
		StartedAt: o.cfg.Clock(),
		DryRun:    opts.DryRun,
	}

	if o.lock != nil {
		if err := o.lock.Acquire(ctx, report.ID, o.cfg.LockStaleAfter); err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if err := o.lock.Release(context.WithoutCancel(ctx), report.ID); err != nil {
				logger.Warn("release run lock: %v", err)
			}
		}()
	}

	logger.Section("Run " + report.ID)
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = o.cfg.Clock()
			return report, err
		}
		report.Accounts = append(report.Accounts, o.runAccount(ctx, account, opts))
	}
	report.FinishedAt = o.cfg.Clock()

	logger.Info("Run %s: %d initial, %d changed, %d unchanged, %d errored",
		report.ID,
		report.Count(domain.OutcomeInitial),
		report.Count(domain.OutcomeChanged),
		report.Count(domain.OutcomeNoChange),
		report.Count(domain.OutcomeErrored))
	return report, ctx.Err()
}

func (o *RunOrchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return domain.ErrRunInProgress
	}
	o.running = true
	return nil
}

func (o *RunOrchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
}

func (o *RunOrchestrator) runAccount(
	ctx context.Context,
	account domain.Account,
	opts driving.RunOptions,
) domain.AccountResult {
	result := domain.AccountResult{
		Account: account.DisplayName(false),
		Status:  domain.AccountOK,
	}

	session, err := o.sessions.EnsureSession(ctx, account)
	if err != nil {
		logger.Warn("account %s: %v", result.Account, err)
		return failAccount(result, account, account.Cases, err)
	}

	for i, c := range account.Cases {
		if ctx.Err() != nil {
			break
		}
		var cr domain.CaseResult
		cr, session = o.runCase(ctx, account, session, c, opts)
		result.Cases = append(result.Cases, cr)

		if isAuthError(cr.Err) {
			// The account cannot be used for the rest of this run.
			result.Cases = result.Cases[:len(result.Cases)-1]
			return failAccount(result, account, account.Cases[i:], cr.Err)
		}
	}
	return result
}

func failAccount(
	result domain.AccountResult,
	account domain.Account,
	cases []domain.Case,
	err error,
) domain.AccountResult {
	result.Status = domain.AccountErrored
	result.Err = err
	for _, c := range cases {
		result.Cases = append(result.Cases, domain.CaseResult{
			Case:    c,
			Key:     account.Key(c),
			Outcome: domain.OutcomeErrored,
			Err:     err,
		})
	}
	return result
}

func isAuthError(err error) bool {
	return errors.Is(err, domain.ErrAuthenticationFailed) ||
		errors.Is(err, domain.ErrAuthenticationUnavailable)
}

func (o *RunOrchestrator) runCase(
	ctx context.Context,
	account domain.Account,
	session driven.PortalSession,
	c domain.Case,
	opts driving.RunOptions,
) (domain.CaseResult, driven.PortalSession) {
	result := domain.CaseResult{Case: c, Key: account.Key(c)}
	errored := func(err error) (domain.CaseResult, driven.PortalSession) {
		logger.Warn("case %s (%s): %v", c.Nickname, c.Number, err)
		result.Outcome = domain.OutcomeErrored
		result.Err = err
		return result, session
	}

	doc, session, err := o.fetch(ctx, account, session, c.Number)
	if err != nil {
		return errored(err)
	}

	previous, err := o.store.ReadLatest(ctx, result.Key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return errored(fmt.Errorf("read snapshot: %w", err))
	}

	o.attachLocation(ctx, session, c.Number, doc, previous)

	classification, delta := Classify(previous, *doc)
	result.Outcome = domain.Outcome(classification)
	result.Delta = delta
	logger.Debug("case %s: %s", c.Number, classification)

	if classification == domain.ClassNoChange {
		return result, session
	}
	if opts.DryRun {
		entry := o.writer.Build(result.Key, *doc, classification, delta)
		result.Entry = &entry
		return result, session
	}

	entry, err := o.writer.Record(ctx, result.Key, *doc, classification, delta)
	if err != nil {
		return errored(err)
	}
	result.Entry = entry
	return result, session
}

// attachLocation folds the receipt's processing-center code into doc so
// location changes are tracked with the rest of the case. When the code
// cannot be read the previously recorded one is kept.
func (o *RunOrchestrator) attachLocation(
	ctx context.Context,
	session driven.PortalSession,
	caseNumber string,
	doc *domain.StatusDocument,
	previous *domain.Snapshot,
) {
	location, err := o.fetcher.Location(ctx, session, caseNumber)
	if err != nil {
		logger.Warn("case %s: receipt info unavailable: %v", caseNumber, err)
	}
	if location == "" && previous != nil {
		location = previous.Document.Location()
	}
	if location != "" {
		doc.SetField(domain.FieldLocation, location)
	}
}

// fetch retrieves a case, retrying transient failures and re-authenticating
// once if the session has expired. Returns the session to use from now on.
func (o *RunOrchestrator) fetch(
	ctx context.Context,
	account domain.Account,
	session driven.PortalSession,
	caseNumber string,
) (*domain.StatusDocument, driven.PortalSession, error) {
	doc, err := o.fetchWithRetry(ctx, session, caseNumber)
	if err == nil || !errors.Is(err, domain.ErrNotAuthorized) {
		return doc, session, err
	}

	logger.Info("session for %s expired, re-authenticating", account.DisplayName(false))
	o.sessions.MarkExpired(account)
	fresh, authErr := o.sessions.EnsureSession(ctx, account)
	if authErr != nil {
		return nil, session, fmt.Errorf("re-authenticate: %w", authErr)
	}

	doc, err = o.fetchWithRetry(ctx, fresh, caseNumber)
	return doc, fresh, err
}

func (o *RunOrchestrator) fetchWithRetry(
	ctx context.Context,
	session driven.PortalSession,
	caseNumber string,
) (*domain.StatusDocument, error) {
	return backoff.Retry(ctx, func() (*domain.StatusDocument, error) {
		doc, err := o.fetcher.Fetch(ctx, session, caseNumber)
		if err != nil && !domain.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return doc, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(o.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(o.cfg.FetchRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("case %s: %v, retrying in %s", caseNumber, err, next)
		}),
	)
}
