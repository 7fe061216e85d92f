package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/services"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "casewatch-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

var johnAP = domain.CaseKey{Account: "John", CaseNumber: "IOE0123456789"}

const samplePayload = `{"data":{"receiptNumber":"IOE0123456789","formType":"I-131",` +
	`"updatedAtTimestamp":"2026-01-02T10:00:00.000Z",` +
	`"events":[{"eventCode":"IAF","eventTimestamp":"2026-01-01T09:00:00.000Z","eventId":"e1"}],` +
	`"notices":[{"actionType":"Receipt Notice","generationDate":"2026-01-01","appointmentDateTime":null}]}}`

func sampleDocument(t *testing.T) domain.StatusDocument {
	t.Helper()
	doc, err := domain.ParseStatusDocument([]byte(samplePayload))
	require.NoError(t, err)
	return *doc
}

func sampleEntry(t *testing.T, id string, class domain.Classification, at time.Time) domain.ChangeEntry {
	t.Helper()
	doc := sampleDocument(t)
	return domain.ChangeEntry{
		ID:             id,
		Key:            johnAP,
		Classification: class,
		DetectedAt:     at,
		Delta: domain.Delta{
			AddedEvents:   doc.Events,
			AddedNotices:  doc.Notices,
			ChangedFields: []domain.FieldChange{{Field: domain.FieldUpdatedAt, Old: `"a"`, New: `"b"`}},
		},
		Summary:  "New 'IAF' event",
		Document: doc,
	}
}

func TestNewStore_ErrorHandling(t *testing.T) {
	_, err := NewStore("/invalid\x00path")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "creating data directory")
}

func TestNewStore_Success(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "casewatch-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewStore(filepath.Join(tempDir, "nested", "data"))
	require.NoError(t, err)
	defer store.Close()

	dbPath := filepath.Join(tempDir, "nested", "data", "casewatch.db")
	assert.Equal(t, dbPath, store.Path())
	assert.FileExists(t, dbPath)
	assert.NoError(t, store.db.Ping())
}

func TestNewStore_Migrations(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	for _, table := range []string{"snapshots", "change_entries", "run_lock", "scheduled_tasks", "task_results"} {
		var exists int
		err := store.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.Equal(t, 1, exists, "table %s should exist", table)
	}
}

func TestStore_MigrationIdempotency(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "casewatch-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store1, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := NewStore(tempDir)
	require.NoError(t, err)
	defer store2.Close()

	var count int
	require.NoError(t, store2.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStore_WALMode(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	var journalMode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestStore_InterfaceGetters(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	assert.NotNil(t, store.SnapshotStore())
	assert.NotNil(t, store.SchedulerStore())
	assert.NotNil(t, store.RunLock())
}

// ==================== SnapshotStore Tests ====================

func TestSnapshotStore_ReadLatest_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.SnapshotStore().ReadLatest(context.Background(), johnAP)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotStore_WriteAndRead(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshots := store.SnapshotStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	entry := sampleEntry(t, "entry-1", domain.ClassInitial, at)

	require.NoError(t, snapshots.Write(ctx, entry.Snapshot(), entry))

	snap, err := snapshots.ReadLatest(ctx, johnAP)
	require.NoError(t, err)
	assert.Equal(t, johnAP, snap.Key)
	assert.True(t, at.Equal(snap.FetchedAt))
	doc := sampleDocument(t)
	assert.True(t, snap.Document.Equal(&doc), "document round-trips")

	history, err := snapshots.ReadHistory(ctx, johnAP)
	require.NoError(t, err)
	require.Len(t, history, 1)
	got := history[0]
	assert.Equal(t, "entry-1", got.ID)
	assert.Equal(t, johnAP, got.Key)
	assert.Equal(t, domain.ClassInitial, got.Classification)
	assert.True(t, at.Equal(got.DetectedAt))
	assert.Equal(t, "New 'IAF' event", got.Summary)
	require.Len(t, got.Delta.AddedEvents, 1)
	assert.Equal(t, domain.EventID{Code: "IAF", Timestamp: "2026-01-01T09:00:00.000Z"}, got.Delta.AddedEvents[0].ID())
	assert.JSONEq(t, `{"eventCode":"IAF","eventTimestamp":"2026-01-01T09:00:00.000Z","eventId":"e1"}`,
		string(got.Delta.AddedEvents[0].Raw))
	require.Len(t, got.Delta.AddedNotices, 1)
	assert.Equal(t, "Receipt Notice", got.Delta.AddedNotices[0].Title)
	assert.Equal(t, entry.Delta.ChangedFields, got.Delta.ChangedFields)
}

func TestSnapshotStore_RefetchOfStoredDocumentIsNoChange(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	const payload = `{"data":{"receiptNumber":"IOE0123456789",` +
		`"formName":"Travel Document & Parole <I-131>",` +
		`"events":[{"eventCode":"IAF","eventTimestamp":"2026-01-01T09:00:00.000Z","note":"fee > 0 & paid"}]}}`
	parse := func() domain.StatusDocument {
		doc, err := domain.ParseStatusDocument([]byte(payload))
		require.NoError(t, err)
		return *doc
	}

	ctx := context.Background()
	snapshots := store.SnapshotStore()
	writer := services.NewChangelogWriter(snapshots, func() time.Time { return time.Unix(1000, 0) })
	class, delta := services.Classify(nil, parse())
	_, err := writer.Record(ctx, johnAP, parse(), class, delta)
	require.NoError(t, err)

	stored, err := snapshots.ReadLatest(ctx, johnAP)
	require.NoError(t, err)
	fetched := parse()
	assert.Equal(t, string(fetched.Fields[domain.FieldFormName]), string(stored.Document.Fields[domain.FieldFormName]))
	assert.Equal(t, string(fetched.Events[0].Raw), string(stored.Document.Events[0].Raw))

	class, delta = services.Classify(stored, fetched)
	assert.Equal(t, domain.ClassNoChange, class)
	assert.True(t, delta.IsEmpty())

	history, err := snapshots.ReadHistory(ctx, johnAP)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, string(fetched.Events[0].Raw), string(history[0].Delta.AddedEvents[0].Raw))
}

func TestSnapshotStore_HistoryOrderAndReplay(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshots := store.SnapshotStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := sampleEntry(t, "entry-1", domain.ClassInitial, base)
	require.NoError(t, snapshots.Write(ctx, first.Snapshot(), first))

	second := sampleEntry(t, "entry-2", domain.ClassChanged, base.Add(500*time.Millisecond))
	second.Document.SetField(domain.FieldUpdatedAt, "2026-03-01T12:00:00.000Z")
	require.NoError(t, snapshots.Write(ctx, second.Snapshot(), second))

	history, err := snapshots.ReadHistory(ctx, johnAP)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "entry-1", history[0].ID)
	assert.Equal(t, "entry-2", history[1].ID)

	latest, err := snapshots.ReadLatest(ctx, johnAP)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00.000Z", latest.Document.UpdatedAt())

	replayed := domain.Replay(history)
	require.NotNil(t, replayed)
	assert.True(t, replayed.Document.Equal(&latest.Document))
	assert.True(t, replayed.FetchedAt.Equal(latest.FetchedAt))
}

func TestSnapshotStore_Write_DuplicateIgnored(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshots := store.SnapshotStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 42, time.UTC)

	entry := sampleEntry(t, "entry-1", domain.ClassInitial, at)
	require.NoError(t, snapshots.Write(ctx, entry.Snapshot(), entry))

	retry := sampleEntry(t, "entry-1-retry", domain.ClassInitial, at)
	require.NoError(t, snapshots.Write(ctx, retry.Snapshot(), retry))

	history, err := snapshots.ReadHistory(ctx, johnAP)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "entry-1", history[0].ID)
}

func TestSnapshotStore_Write_RejectsNoChange(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	entry := sampleEntry(t, "entry-1", domain.ClassNoChange, time.Now())

	err := store.SnapshotStore().Write(context.Background(), entry.Snapshot(), entry)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSnapshotStore_Write_RejectsMismatchedKey(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	entry := sampleEntry(t, "entry-1", domain.ClassInitial, time.Now())
	snap := entry.Snapshot()
	snap.Key.CaseNumber = "IOE9999999999"

	err := store.SnapshotStore().Write(context.Background(), snap, entry)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSnapshotStore_Write_AtomicOnFailure(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshots := store.SnapshotStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := sampleEntry(t, "entry-1", domain.ClassInitial, at)
	require.NoError(t, snapshots.Write(ctx, first.Snapshot(), first))

	// Reusing the entry ID fails the insert; the snapshot must stay unchanged.
	clash := sampleEntry(t, "entry-1", domain.ClassChanged, at.Add(time.Hour))
	clash.Document.SetField(domain.FieldUpdatedAt, "never")
	err := snapshots.Write(ctx, clash.Snapshot(), clash)
	require.Error(t, err)

	latest, err := snapshots.ReadLatest(ctx, johnAP)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T10:00:00.000Z", latest.Document.UpdatedAt())
	assert.True(t, at.Equal(latest.FetchedAt))
}

func TestSnapshotStore_EntriesAreAppendOnly(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	entry := sampleEntry(t, "entry-1", domain.ClassInitial, time.Now())
	require.NoError(t, store.SnapshotStore().Write(ctx, entry.Snapshot(), entry))

	_, err := store.db.Exec("UPDATE change_entries SET summary = 'edited'")
	assert.ErrorContains(t, err, "append-only")

	_, err = store.db.Exec("DELETE FROM change_entries")
	assert.ErrorContains(t, err, "append-only")
}

func TestSnapshotStore_ListCases(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshots := store.SnapshotStore()

	keys, err := snapshots.ListCases(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	for i, key := range []domain.CaseKey{
		{Account: "Jane", CaseNumber: "IOE2"},
		{Account: "John", CaseNumber: "IOE1"},
		{Account: "Jane", CaseNumber: "IOE1"},
	} {
		entry := sampleEntry(t, key.String(), domain.ClassInitial, time.Unix(int64(i), 0))
		entry.Key = key
		require.NoError(t, snapshots.Write(ctx, entry.Snapshot(), entry))
	}

	keys, err = snapshots.ListCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.CaseKey{
		{Account: "Jane", CaseNumber: "IOE1"},
		{Account: "Jane", CaseNumber: "IOE2"},
		{Account: "John", CaseNumber: "IOE1"},
	}, keys)
}

func TestSnapshotStore_CasesAreIsolated(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshots := store.SnapshotStore()

	entry := sampleEntry(t, "entry-1", domain.ClassInitial, time.Now())
	require.NoError(t, snapshots.Write(ctx, entry.Snapshot(), entry))

	other := domain.CaseKey{Account: "Jane", CaseNumber: johnAP.CaseNumber}
	_, err := snapshots.ReadLatest(ctx, other)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	history, err := snapshots.ReadHistory(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSnapshotStore_ConcurrentCases(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshots := store.SnapshotStore()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := sampleEntry(t, "entry-"+string(rune('a'+i)), domain.ClassInitial, time.Unix(int64(i), 0))
			entry.Key = domain.CaseKey{Account: "John", CaseNumber: "IOE" + string(rune('0'+i))}
			errs <- snapshots.Write(ctx, entry.Snapshot(), entry)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	keys, err := snapshots.ListCases(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 5)
}

// ==================== RunLock Tests ====================

func TestRunLock_AcquireRelease(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	lock := store.RunLock()

	require.NoError(t, lock.Acquire(ctx, "run-1", time.Hour))

	err := lock.Acquire(ctx, "run-2", time.Hour)
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
	assert.Contains(t, err.Error(), "run-1")

	// Releasing with the wrong owner leaves the lock in place.
	require.NoError(t, lock.Release(ctx, "run-2"))
	assert.ErrorIs(t, lock.Acquire(ctx, "run-2", time.Hour), domain.ErrRunInProgress)

	require.NoError(t, lock.Release(ctx, "run-1"))
	assert.NoError(t, lock.Acquire(ctx, "run-2", time.Hour))
}

func TestRunLock_ReacquireBySameOwner(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	lock := store.RunLock()

	require.NoError(t, lock.Acquire(ctx, "run-1", time.Hour))
	assert.NoError(t, lock.Acquire(ctx, "run-1", time.Hour))
}

func TestRunLock_StaleTakeover(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	lock := store.RunLock()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, lock.Acquire(ctx, "crashed-run", time.Hour))

	now = now.Add(30 * time.Minute)
	assert.ErrorIs(t, lock.Acquire(ctx, "run-2", time.Hour), domain.ErrRunInProgress)

	now = now.Add(31 * time.Minute)
	assert.NoError(t, lock.Acquire(ctx, "run-2", time.Hour))

	var owner string
	require.NoError(t, store.db.QueryRow("SELECT owner FROM run_lock").Scan(&owner))
	assert.Equal(t, "run-2", owner)
}

func TestStore_ContextCancellation(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.SnapshotStore().ReadHistory(ctx, johnAP)
	assert.Error(t, err)
}
