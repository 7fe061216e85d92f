package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/casewatch/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/logger"
)

// timeLayout is used for every timestamp column. It is fixed width so text
// ordering matches time ordering, and keeps the nanoseconds the
// duplicate-write check compares.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a unified SQLite-based storage that provides access to
// all store interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string

	// now is the lock clock, replaceable in tests.
	now func() time.Time
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.casewatch/data/casewatch.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".casewatch", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "casewatch.db")

	// Immediate transactions take the write lock up front, so the read
	// inside Write cannot deadlock against another writer.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
		now:  time.Now,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SnapshotStore returns a SnapshotStore interface backed by this store.
func (s *Store) SnapshotStore() driven.SnapshotStore {
	return &snapshotStore{store: s}
}

// SchedulerStore returns a SchedulerStore interface backed by this store.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return &schedulerStore{store: s}
}

// RunLock returns a RunLock interface backed by this store.
func (s *Store) RunLock() driven.RunLock {
	return &runLock{store: s}
}

// migrate runs all pending migrations, each in its own transaction.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := s.applyMigration(version, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		logger.Debug("applied migration %s", name)
	}

	return nil
}

func (s *Store) applyMigration(version int, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(content); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("getting schema version: %w", err)
	}
	return version, nil
}

// ==================== Snapshot Store ====================

// snapshotStore implements driven.SnapshotStore.
type snapshotStore struct {
	store *Store
}

var _ driven.SnapshotStore = (*snapshotStore)(nil)

// ReadLatest returns the current snapshot for a case.
func (s *snapshotStore) ReadLatest(ctx context.Context, key domain.CaseKey) (*domain.Snapshot, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT document, fetched_at FROM snapshots
		WHERE account = ? AND case_number = ?
	`, key.Account, key.CaseNumber)

	var docJSON, fetchedAt string
	if err := row.Scan(&docJSON, &fetchedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}

	doc, err := domain.ParseStatusDocument([]byte(docJSON))
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", key, err)
	}
	at, err := time.Parse(timeLayout, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing fetched_at for %s: %w", key, err)
	}

	return &domain.Snapshot{Key: key, Document: *doc, FetchedAt: at}, nil
}

// ReadHistory returns all change entries for a case in detection order.
func (s *snapshotStore) ReadHistory(ctx context.Context, key domain.CaseKey) ([]domain.ChangeEntry, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, classification, detected_at, delta, summary, document
		FROM change_entries
		WHERE account = ? AND case_number = ?
		ORDER BY seq
	`, key.Account, key.CaseNumber)
	if err != nil {
		return nil, fmt.Errorf("querying change entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.ChangeEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		entry, err := scanChangeEntry(rows, key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating change entries: %w", err)
	}

	return entries, nil
}

// Write replaces the snapshot and appends the entry in one transaction.
func (s *snapshotStore) Write(ctx context.Context, snapshot domain.Snapshot, entry domain.ChangeEntry) error {
	if entry.Classification != domain.ClassInitial && entry.Classification != domain.ClassChanged {
		return fmt.Errorf("%w: cannot store %q entry", domain.ErrInvalidInput, entry.Classification)
	}
	if snapshot.Key != entry.Key {
		return fmt.Errorf("%w: snapshot %s does not match entry %s", domain.ErrInvalidInput, snapshot.Key, entry.Key)
	}

	snapJSON, err := domain.EncodeJSON(snapshot.Document)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}
	entryJSON, err := domain.EncodeJSON(entry.Document)
	if err != nil {
		return fmt.Errorf("marshalling entry document: %w", err)
	}
	deltaJSON, err := domain.EncodeJSON(entry.Delta)
	if err != nil {
		return fmt.Errorf("marshalling delta: %w", err)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	duplicate, err := isDuplicateWrite(ctx, tx, entry)
	if err != nil {
		return err
	}
	if duplicate {
		logger.Debug("ignoring repeated write for %s at %s", entry.Key, entry.DetectedAt.Format(timeLayout))
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO change_entries (id, account, case_number, classification, detected_at, delta, summary, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Key.Account, entry.Key.CaseNumber, string(entry.Classification),
		entry.DetectedAt.UTC().Format(timeLayout), string(deltaJSON), entry.Summary, string(entryJSON))
	if err != nil {
		return fmt.Errorf("appending change entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (account, case_number, document, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account, case_number) DO UPDATE SET
			document = excluded.document,
			fetched_at = excluded.fetched_at
	`, snapshot.Key.Account, snapshot.Key.CaseNumber, string(snapJSON),
		snapshot.FetchedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing write: %w", err)
	}
	return nil
}

// ListCases returns the keys of every recorded case.
func (s *snapshotStore) ListCases(ctx context.Context) ([]domain.CaseKey, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT account, case_number FROM snapshots ORDER BY account, case_number
	`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var keys []domain.CaseKey //nolint:prealloc // size unknown from query
	for rows.Next() {
		var key domain.CaseKey
		if err := rows.Scan(&key.Account, &key.CaseNumber); err != nil {
			return nil, fmt.Errorf("scanning case key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}

	return keys, nil
}

// isDuplicateWrite reports whether the last stored entry for the case has
// the same detection time and classification.
func isDuplicateWrite(ctx context.Context, tx *sql.Tx, entry domain.ChangeEntry) (bool, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT classification, detected_at FROM change_entries
		WHERE account = ? AND case_number = ?
		ORDER BY seq DESC LIMIT 1
	`, entry.Key.Account, entry.Key.CaseNumber)

	var classification, detectedAt string
	if err := row.Scan(&classification, &detectedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reading last change entry: %w", err)
	}

	at, err := time.Parse(timeLayout, detectedAt)
	if err != nil {
		return false, fmt.Errorf("parsing detected_at: %w", err)
	}
	last := domain.ChangeEntry{Classification: domain.Classification(classification), DetectedAt: at}
	return last.SameAs(entry), nil
}

// scanChangeEntry scans a change entry from *sql.Rows.
func scanChangeEntry(rows *sql.Rows, key domain.CaseKey) (*domain.ChangeEntry, error) {
	var entry domain.ChangeEntry
	var classification, detectedAt, deltaJSON, docJSON string

	if err := rows.Scan(&entry.ID, &classification, &detectedAt, &deltaJSON, &entry.Summary, &docJSON); err != nil {
		return nil, fmt.Errorf("scanning change entry: %w", err)
	}

	entry.Key = key
	entry.Classification = domain.Classification(classification)

	at, err := time.Parse(timeLayout, detectedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing detected_at for entry %s: %w", entry.ID, err)
	}
	entry.DetectedAt = at

	if err := json.Unmarshal([]byte(deltaJSON), &entry.Delta); err != nil {
		return nil, fmt.Errorf("unmarshaling delta for entry %s: %w", entry.ID, err)
	}

	doc, err := domain.ParseStatusDocument([]byte(docJSON))
	if err != nil {
		return nil, fmt.Errorf("decoding document for entry %s: %w", entry.ID, err)
	}
	entry.Document = *doc

	return &entry, nil
}

// ==================== Run Lock ====================

// runLock implements driven.RunLock with a single row.
type runLock struct {
	store *Store
}

var _ driven.RunLock = (*runLock)(nil)

// Acquire takes the lock for owner, taking over a lock older than staleAfter.
func (l *runLock) Acquire(ctx context.Context, owner string, staleAfter time.Duration) error {
	now := l.store.now().UTC()

	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var holder, acquiredAt string
	err = tx.QueryRowContext(ctx, "SELECT owner, acquired_at FROM run_lock WHERE id = 1").Scan(&holder, &acquiredAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("reading run lock: %w", err)
	case holder != owner:
		at, parseErr := time.Parse(timeLayout, acquiredAt)
		if parseErr == nil && now.Sub(at) < staleAfter {
			return fmt.Errorf("%w: held by %s since %s", domain.ErrRunInProgress, holder, acquiredAt)
		}
		logger.Warn("taking over stale run lock held by %s since %s", holder, acquiredAt)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_lock (id, owner, acquired_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at
	`, owner, now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("writing run lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run lock: %w", err)
	}
	return nil
}

// Release drops the lock if owner holds it.
func (l *runLock) Release(ctx context.Context, owner string) error {
	_, err := l.store.db.ExecContext(ctx, "DELETE FROM run_lock WHERE id = 1 AND owner = ?", owner)
	if err != nil {
		return fmt.Errorf("releasing run lock: %w", err)
	}
	return nil
}
