package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
)

// ChangelogWriter turns classified fetches into change entries and commits
// them together with the new snapshot.
type ChangelogWriter struct {
	store driven.SnapshotStore
	clock func() time.Time
	newID func() string
}

// NewChangelogWriter creates a writer. A nil clock uses time.Now.
func NewChangelogWriter(store driven.SnapshotStore, clock func() time.Time) *ChangelogWriter {
	if clock == nil {
		clock = time.Now
	}
	return &ChangelogWriter{
		store: store,
		clock: clock,
		newID: uuid.NewString,
	}
}

// Record persists an entry for an initial or changed classification and
// returns it. no_change writes nothing and returns nil.
func (w *ChangelogWriter) Record(
	ctx context.Context,
	key domain.CaseKey,
	fetched domain.StatusDocument,
	classification domain.Classification,
	delta domain.Delta,
) (*domain.ChangeEntry, error) {
	if classification == domain.ClassNoChange {
		return nil, nil
	}

	entry := w.Build(key, fetched, classification, delta)
	if err := w.store.Write(ctx, entry.Snapshot(), entry); err != nil {
		return nil, fmt.Errorf("record change for %s: %w", key, err)
	}
	return &entry, nil
}

// Build creates the entry Record would write, without writing it.
func (w *ChangelogWriter) Build(
	key domain.CaseKey,
	fetched domain.StatusDocument,
	classification domain.Classification,
	delta domain.Delta,
) domain.ChangeEntry {
	return domain.ChangeEntry{
		ID:             w.newID(),
		Key:            key,
		Classification: classification,
		DetectedAt:     w.clock().UTC(),
		Delta:          delta,
		Summary:        Summarize(classification, delta),
		Document:       fetched.Clone(),
	}
}

// Summarize describes a delta in one line.
func Summarize(classification domain.Classification, delta domain.Delta) string {
	switch classification {
	case domain.ClassInitial:
		return fmt.Sprintf("Initial fetch: %s, %s",
			plural(len(delta.AddedEvents), "event"), plural(len(delta.AddedNotices), "notice"))
	case domain.ClassNoChange:
		return classification.Reason()
	}

	if delta.IsSilent() {
		return "Silent update: " + domain.FieldUpdatedAt + " changed"
	}

	var parts []string
	for _, e := range delta.AddedEvents {
		parts = append(parts, fmt.Sprintf("New '%s' event", e.Code))
	}
	for _, n := range delta.AddedNotices {
		parts = append(parts, fmt.Sprintf("New notice '%s'", n.Title))
	}
	for _, f := range delta.ChangedFields {
		if f.Field == domain.FieldUpdatedAt {
			continue
		}
		parts = append(parts, f.Field+" changed")
	}
	if len(parts) == 0 {
		return classification.Reason()
	}
	return strings.Join(parts, "; ")
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
