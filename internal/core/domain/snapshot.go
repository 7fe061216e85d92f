package domain

import "time"

// Classification is the three-way outcome of comparing two status documents.
type Classification string

const (
	// ClassInitial means no prior snapshot existed.
	ClassInitial Classification = "initial"

	// ClassNoChange means nothing tracked differs. Never persisted.
	ClassNoChange Classification = "no_change"

	// ClassChanged means at least one delta is non-empty.
	ClassChanged Classification = "changed"
)

// Reason returns the one-line changelog reason for the classification.
func (c Classification) Reason() string {
	switch c {
	case ClassInitial:
		return "Initial fetch"
	case ClassChanged:
		return "Changed"
	case ClassNoChange:
		return "No changes"
	default:
		return string(c)
	}
}

// Snapshot is the latest status document known for a case.
// At most one snapshot is current per case; it is replaced, never mutated.
type Snapshot struct {
	Key       CaseKey
	Document  StatusDocument
	FetchedAt time.Time
}

// FieldChange records a tracked top-level field whose value changed.
// Old and New are the compact JSON text of the values; empty means absent.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Delta is the structured difference between two documents.
type Delta struct {
	AddedEvents   []Event       `json:"added_events,omitempty"`
	AddedNotices  []Notice      `json:"added_notices,omitempty"`
	ChangedFields []FieldChange `json:"changed_fields,omitempty"`
}

// IsEmpty reports whether the delta carries no change.
func (d Delta) IsEmpty() bool {
	return len(d.AddedEvents) == 0 && len(d.AddedNotices) == 0 && len(d.ChangedFields) == 0
}

// IsSilent reports whether the only change is the last-updated timestamp.
// The portal bumps it without adding events or notices.
func (d Delta) IsSilent() bool {
	return len(d.AddedEvents) == 0 && len(d.AddedNotices) == 0 &&
		len(d.ChangedFields) == 1 && d.ChangedFields[0].Field == FieldUpdatedAt
}

// ChangeEntry is an immutable audit record of a detected transition.
// Entries are append-only; once written they are never edited or deleted.
type ChangeEntry struct {
	// ID is the unique identifier for the entry.
	ID string

	// Key identifies the case.
	Key CaseKey

	// Classification is initial or changed; no_change is never stored.
	Classification Classification

	// DetectedAt is when the change was observed.
	DetectedAt time.Time

	// Delta is what changed.
	Delta Delta

	// Summary is the free-text description of the delta.
	Summary string

	// Document is the state this entry committed as the case snapshot.
	Document StatusDocument
}

// SameAs reports whether two entries describe the same write.
// Used by stores to ignore a repeated write.
func (e ChangeEntry) SameAs(other ChangeEntry) bool {
	return e.Classification == other.Classification && e.DetectedAt.Equal(other.DetectedAt)
}

// Snapshot returns the snapshot this entry commits.
func (e ChangeEntry) Snapshot() Snapshot {
	return Snapshot{Key: e.Key, Document: e.Document, FetchedAt: e.DetectedAt}
}

// Replay folds a case's change history, starting from no prior state, into
// the snapshot it produces. Returns nil for an empty history.
func Replay(entries []ChangeEntry) *Snapshot {
	var current *Snapshot
	for _, entry := range entries {
		switch entry.Classification {
		case ClassInitial, ClassChanged:
			snap := entry.Snapshot()
			current = &snap
		}
	}
	return current
}
