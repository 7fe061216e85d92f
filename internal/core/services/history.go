package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/core/ports/driving"
)

// Ensure HistoryService implements the interface.
var _ driving.CaseHistory = (*HistoryService)(nil)

// SimulatedEventCode is the event code used by Simulate.
const SimulatedEventCode = "SIM"

// HistoryService reads stored case state.
type HistoryService struct {
	store driven.SnapshotStore
}

// NewHistoryService creates a history service.
func NewHistoryService(store driven.SnapshotStore) *HistoryService {
	return &HistoryService{store: store}
}

// Latest returns the current snapshot for a case.
func (s *HistoryService) Latest(ctx context.Context, key domain.CaseKey) (*domain.Snapshot, error) {
	return s.store.ReadLatest(ctx, key)
}

// History returns the change entries for a case in detection order.
func (s *HistoryService) History(ctx context.Context, key domain.CaseKey) ([]domain.ChangeEntry, error) {
	return s.store.ReadHistory(ctx, key)
}

// Verify checks that replaying the history reproduces the latest snapshot.
func (s *HistoryService) Verify(ctx context.Context, key domain.CaseKey) error {
	latest, err := s.store.ReadLatest(ctx, key)
	if err != nil {
		return err
	}
	entries, err := s.store.ReadHistory(ctx, key)
	if err != nil {
		return err
	}

	replayed := domain.Replay(entries)
	switch {
	case replayed == nil:
		return fmt.Errorf("%s: snapshot exists but history is empty", key)
	case !replayed.FetchedAt.Equal(latest.FetchedAt):
		return fmt.Errorf("%s: replay ends at %s, snapshot fetched at %s",
			key, replayed.FetchedAt.Format(time.RFC3339), latest.FetchedAt.Format(time.RFC3339))
	case !replayed.Document.Equal(&latest.Document):
		return fmt.Errorf("%s: replayed document differs from snapshot", key)
	}
	return nil
}

// Simulate adds a synthetic event, notice and last-updated timestamp to the
// stored snapshot and returns the entry that would be recorded.
func (s *HistoryService) Simulate(ctx context.Context, key domain.CaseKey, at time.Time) (*domain.ChangeEntry, error) {
	latest, err := s.store.ReadLatest(ctx, key)
	if err != nil {
		return nil, err
	}

	stamp := at.UTC().Format("2006-01-02T15:04:05.000Z")
	doc := latest.Document.Clone()
	doc.Events = append([]domain.Event{{Code: SimulatedEventCode, Timestamp: stamp}}, doc.Events...)
	doc.Notices = append([]domain.Notice{{Title: "Simulated Notice", Timestamp: stamp}}, doc.Notices...)
	doc.SetField(domain.FieldUpdatedAt, stamp)

	classification, delta := Classify(latest, doc)
	writer := NewChangelogWriter(s.store, func() time.Time { return at })
	entry := writer.Build(key, doc, classification, delta)
	return &entry, nil
}
