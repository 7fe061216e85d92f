package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// CaseHistory exposes the stored state of tracked cases.
type CaseHistory interface {
	// Latest returns the current snapshot for a case.
	Latest(ctx context.Context, key domain.CaseKey) (*domain.Snapshot, error)

	// History returns the change entries for a case in detection order.
	History(ctx context.Context, key domain.CaseKey) ([]domain.ChangeEntry, error)

	// Verify checks that replaying the history reproduces the latest snapshot.
	Verify(ctx context.Context, key domain.CaseKey) error

	// Simulate applies a synthetic update to the stored snapshot and returns
	// the entry that would be recorded. Nothing is written.
	Simulate(ctx context.Context, key domain.CaseKey, at time.Time) (*domain.ChangeEntry, error)
}
