package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
)

// --- Portal mocks ---

// mockPortal implements driven.Portal. Queued errors are consumed one per
// call; an exhausted queue means success.
type mockPortal struct {
	mu sync.Mutex

	beginErrs  []error
	submitErrs []error

	// fetch serves FetchCase for every session; id is the session's
	// creation order starting at 1.
	fetch func(id int, caseNumber string) ([]byte, error)

	// receipt serves FetchReceiptInfo; nil answers with no receipt data.
	receipt func(caseNumber string) ([]byte, error)

	begins    int
	submitted []string
	abandoned int
	sessions  []*mockPortalSession
}

func (p *mockPortal) BeginLogin(ctx context.Context, _ domain.Account) (driven.LoginChallenge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begins++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.beginErrs) > 0 {
		err := p.beginErrs[0]
		p.beginErrs = p.beginErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &mockChallenge{portal: p}, nil
}

func (p *mockPortal) sessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

type mockChallenge struct {
	portal *mockPortal
}

func (c *mockChallenge) SubmitCode(_ context.Context, code string) (driven.PortalSession, error) {
	p := c.portal
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, code)
	if len(p.submitErrs) > 0 {
		err := p.submitErrs[0]
		p.submitErrs = p.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &mockPortalSession{id: len(p.sessions) + 1, fetch: p.fetch, receipt: p.receipt}
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (c *mockChallenge) Abandon() error {
	c.portal.mu.Lock()
	defer c.portal.mu.Unlock()
	c.portal.abandoned++
	return nil
}

type mockPortalSession struct {
	mu      sync.Mutex
	id      int
	fetch   func(id int, caseNumber string) ([]byte, error)
	receipt func(caseNumber string) ([]byte, error)
	fetches []string
	closed  bool
}

func (s *mockPortalSession) FetchCase(ctx context.Context, caseNumber string) ([]byte, error) {
	s.mu.Lock()
	s.fetches = append(s.fetches, caseNumber)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.fetch == nil {
		return nil, errors.New("no fetch configured")
	}
	return s.fetch(s.id, caseNumber)
}

func (s *mockPortalSession) FetchReceiptInfo(ctx context.Context, caseNumber string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.receipt == nil {
		return []byte(`{"data":null}`), nil
	}
	return s.receipt(caseNumber)
}

func (s *mockPortalSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// --- Snapshot store mock ---

// mockSnapshotStore implements driven.SnapshotStore in memory.
type mockSnapshotStore struct {
	mu       sync.Mutex
	latest   map[domain.CaseKey]domain.Snapshot
	history  map[domain.CaseKey][]domain.ChangeEntry
	writes   int
	writeErr error
	readErr  error
}

func newMockSnapshotStore() *mockSnapshotStore {
	return &mockSnapshotStore{
		latest:  make(map[domain.CaseKey]domain.Snapshot),
		history: make(map[domain.CaseKey][]domain.ChangeEntry),
	}
}

func (m *mockSnapshotStore) ReadLatest(_ context.Context, key domain.CaseKey) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	snap, ok := m.latest[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &snap, nil
}

func (m *mockSnapshotStore) ReadHistory(_ context.Context, key domain.CaseKey) ([]domain.ChangeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChangeEntry(nil), m.history[key]...), nil
}

func (m *mockSnapshotStore) Write(_ context.Context, snap domain.Snapshot, entry domain.ChangeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	entries := m.history[snap.Key]
	if n := len(entries); n > 0 && entries[n-1].SameAs(entry) {
		return nil
	}
	m.writes++
	m.latest[snap.Key] = snap
	m.history[snap.Key] = append(entries, entry)
	return nil
}

func (m *mockSnapshotStore) ListCases(_ context.Context) ([]domain.CaseKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]domain.CaseKey, 0, len(m.latest))
	for k := range m.latest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (m *mockSnapshotStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// --- Run lock mock ---

type mockRunLock struct {
	mu         sync.Mutex
	owner      string
	acquireErr error
	releases   int
}

func (l *mockRunLock) Acquire(_ context.Context, owner string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquireErr != nil {
		return l.acquireErr
	}
	if l.owner != "" {
		return domain.ErrRunInProgress
	}
	l.owner = owner
	return nil
}

func (l *mockRunLock) Release(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
	}
	l.releases++
	return nil
}

// Ensure mocks implement interfaces
var (
	_ driven.Portal        = (*mockPortal)(nil)
	_ driven.SnapshotStore = (*mockSnapshotStore)(nil)
	_ driven.RunLock       = (*mockRunLock)(nil)
)

// --- Fixtures ---

type evt struct {
	Code string
	At   string
}

// casePayload builds a portal payload for a case with the given events.
func casePayload(updated string, events ...evt) []byte {
	list := make([]map[string]string, 0, len(events))
	for _, e := range events {
		list = append(list, map[string]string{"eventCode": e.Code, "eventTimestamp": e.At})
	}
	b, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"receiptNumber":      "IOE0123456789",
			"formType":           "I-131",
			"formName":           "Application for Travel Document",
			"updatedAtTimestamp": updated,
			"events":             list,
			"notices":            []any{},
		},
	})
	if err != nil {
		panic(err)
	}
	return b
}

func mustParse(raw []byte) domain.StatusDocument {
	doc, err := domain.ParseStatusDocument(raw)
	if err != nil {
		panic(err)
	}
	return *doc
}

// fakeCode returns a code naming the interval, so tests can see which
// interval a submitted code came from.
func fakeCode(_ string, at time.Time) (string, error) {
	return fmt.Sprintf("code-%d", at.Unix()/30), nil
}

// fixedClock returns a clock that always reports t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testAccount(name string, cases ...domain.Case) domain.Account {
	return domain.Account{
		Name:       name,
		AnonName:   "Anon " + name,
		Username:   name + "@example.com",
		Password:   "hunter2",
		TOTPSecret: "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ",
		Cases:      cases,
	}
}

func testSessionConfig(clock func() time.Time) SessionConfig {
	return SessionConfig{
		MaxAttempts: 3,
		Clock:       clock,
		Code:        fakeCode,
	}
}
