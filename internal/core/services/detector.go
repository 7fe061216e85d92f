package services

import (
	"encoding/json"
	"sort"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// Classify compares a freshly fetched document against the previous snapshot.
//
// With no previous snapshot the result is initial and the delta lists every
// event and notice. Otherwise the delta holds events and notices whose
// identity was not seen before, in fetched order, and every tracked field
// whose value differs, sorted by name. An empty delta is no_change.
func Classify(previous *domain.Snapshot, fetched domain.StatusDocument) (domain.Classification, domain.Delta) {
	if previous == nil {
		return domain.ClassInitial, domain.Delta{
			AddedEvents:  append([]domain.Event(nil), fetched.Events...),
			AddedNotices: append([]domain.Notice(nil), fetched.Notices...),
		}
	}

	old := previous.Document
	delta := domain.Delta{
		AddedEvents:   addedEvents(old.Events, fetched.Events),
		AddedNotices:  addedNotices(old.Notices, fetched.Notices),
		ChangedFields: changedFields(old.Fields, fetched.Fields),
	}
	if delta.IsEmpty() {
		return domain.ClassNoChange, domain.Delta{}
	}
	return domain.ClassChanged, delta
}

func addedEvents(old, fetched []domain.Event) []domain.Event {
	seen := make(map[domain.EventID]struct{}, len(old))
	for _, e := range old {
		seen[e.ID()] = struct{}{}
	}
	var added []domain.Event
	for _, e := range fetched {
		if _, ok := seen[e.ID()]; ok {
			continue
		}
		// Duplicates within one payload are reported once.
		seen[e.ID()] = struct{}{}
		added = append(added, e)
	}
	return added
}

func addedNotices(old, fetched []domain.Notice) []domain.Notice {
	seen := make(map[domain.NoticeID]struct{}, len(old))
	for _, n := range old {
		seen[n.ID()] = struct{}{}
	}
	var added []domain.Notice
	for _, n := range fetched {
		if _, ok := seen[n.ID()]; ok {
			continue
		}
		seen[n.ID()] = struct{}{}
		added = append(added, n)
	}
	return added
}

func changedFields(old, fetched map[string]json.RawMessage) []domain.FieldChange {
	names := make(map[string]struct{}, len(old)+len(fetched))
	for k := range old {
		names[k] = struct{}{}
	}
	for k := range fetched {
		names[k] = struct{}{}
	}

	var changes []domain.FieldChange
	for name := range names {
		before, after := string(old[name]), string(fetched[name])
		if before != after {
			changes = append(changes, domain.FieldChange{Field: name, Old: before, New: after})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}
