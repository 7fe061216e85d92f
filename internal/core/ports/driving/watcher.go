package driving

import (
	"context"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// CaseWatcher performs a check of every configured case.
type CaseWatcher interface {
	// Run checks each account's cases in order and reports per-case outcomes.
	// Returns domain.ErrRunInProgress if another run holds the store.
	Run(ctx context.Context, accounts []domain.Account, opts RunOptions) (*domain.RunReport, error)

	// Running reports whether a run is in progress in this process.
	Running() bool
}

// RunOptions controls a single run.
type RunOptions struct {
	// DryRun fetches and classifies but never writes.
	DryRun bool
}
