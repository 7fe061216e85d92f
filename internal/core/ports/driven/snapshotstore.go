package driven

import (
	"context"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// SnapshotStore persists each case's current snapshot and its append-only
// change history.
type SnapshotStore interface {
	// ReadLatest returns the current snapshot for a case.
	// Returns domain.ErrNotFound if the case has never been recorded.
	ReadLatest(ctx context.Context, key domain.CaseKey) (*domain.Snapshot, error)

	// ReadHistory returns all change entries for a case in detection order.
	ReadHistory(ctx context.Context, key domain.CaseKey) ([]domain.ChangeEntry, error)

	// Write replaces the snapshot and appends the entry atomically: either
	// both persist or neither does. A write whose entry has the same
	// detection time and classification as the last stored entry is ignored.
	Write(ctx context.Context, snapshot domain.Snapshot, entry domain.ChangeEntry) error

	// ListCases returns the keys of every recorded case.
	ListCases(ctx context.Context) ([]domain.CaseKey, error)
}
