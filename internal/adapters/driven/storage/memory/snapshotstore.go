package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
)

// Ensure SnapshotStore implements the interface.
var _ driven.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore is an in-memory implementation of driven.SnapshotStore.
// Documents are copied on the way in and out.
type SnapshotStore struct {
	mu      sync.RWMutex
	latest  map[domain.CaseKey]domain.Snapshot
	history map[domain.CaseKey][]domain.ChangeEntry
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		latest:  make(map[domain.CaseKey]domain.Snapshot),
		history: make(map[domain.CaseKey][]domain.ChangeEntry),
	}
}

// ReadLatest returns the current snapshot for a case.
func (s *SnapshotStore) ReadLatest(_ context.Context, key domain.CaseKey) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.latest[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	snap.Document = snap.Document.Clone()
	return &snap, nil
}

// ReadHistory returns all change entries for a case in detection order.
func (s *SnapshotStore) ReadHistory(_ context.Context, key domain.CaseKey) ([]domain.ChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[key]
	out := make([]domain.ChangeEntry, len(entries))
	for i, e := range entries {
		e.Document = e.Document.Clone()
		out[i] = e
	}
	return out, nil
}

// Write replaces the snapshot and appends the entry under one lock.
func (s *SnapshotStore) Write(_ context.Context, snapshot domain.Snapshot, entry domain.ChangeEntry) error {
	if entry.Classification != domain.ClassInitial && entry.Classification != domain.ClassChanged {
		return fmt.Errorf("%w: cannot store %q entry", domain.ErrInvalidInput, entry.Classification)
	}
	if snapshot.Key != entry.Key {
		return fmt.Errorf("%w: snapshot %s does not match entry %s", domain.ErrInvalidInput, snapshot.Key, entry.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[entry.Key]
	if n := len(entries); n > 0 && entries[n-1].SameAs(entry) {
		return nil
	}

	snapshot.Document = snapshot.Document.Clone()
	entry.Document = entry.Document.Clone()
	s.latest[snapshot.Key] = snapshot
	s.history[entry.Key] = append(entries, entry)
	return nil
}

// ListCases returns the keys of every recorded case.
func (s *SnapshotStore) ListCases(_ context.Context) ([]domain.CaseKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.CaseKey, 0, len(s.latest))
	for k := range s.latest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Account != keys[j].Account {
			return keys[i].Account < keys[j].Account
		}
		return keys[i].CaseNumber < keys[j].CaseNumber
	})
	return keys, nil
}
