package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/casewatch/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driving"
	"github.com/custodia-labs/casewatch/internal/core/services"
)

var cliNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const initialDoc = `{"data":{
	"receiptNumber":"IOE0000000001",
	"formType":"I-131",
	"formName":"Application for Travel Document",
	"updatedAtTimestamp":"2026-03-01T10:00:00.000Z",
	"events":[{"eventCode":"IAF","eventTimestamp":"2026-01-05T09:00:00.000Z"}],
	"notices":[{"actionType":"Receipt Notice","generationDate":"2026-01-06T00:00:00.000Z"}]
}}`

func testConfig() domain.Config {
	cfg := domain.DefaultConfig()
	cfg.Accounts = []domain.Account{
		{
			Name: "John", AnonName: "Person A",
			Username: "john@example.com", Password: "secret", TOTPSecret: "JBSWY3DPEHPK3PXP",
			Cases: []domain.Case{
				{Number: "IOE0000000001", Nickname: "John AP"},
				{Number: "IOE0000000002", Nickname: "John EAD"},
			},
		},
		{
			Name: "Jane", AnonName: "Person B",
			Username: "jane@example.com", Password: "secret", TOTPSecret: "GEZDGNBVGY3TQOJQ",
			Cases: []domain.Case{{Number: "IOE0000000003", Nickname: "Jane AP"}},
		},
	}
	return cfg
}

// mockConfigStore implements driven.ConfigStore for testing.
type mockConfigStore struct {
	cfg      domain.Config
	watchErr error
}

func (m *mockConfigStore) Load() error { return nil }

func (m *mockConfigStore) Config() domain.Config { return m.cfg }

func (m *mockConfigStore) Path() string { return "/tmp/casewatch.toml" }

func (m *mockConfigStore) Accounts() []domain.Account {
	return append([]domain.Account(nil), m.cfg.Accounts...)
}

func (m *mockConfigStore) Watch(ctx context.Context, _ func(error)) error {
	if m.watchErr != nil {
		return m.watchErr
	}
	<-ctx.Done()
	return nil
}

// mockWatcher implements driving.CaseWatcher for testing.
type mockWatcher struct {
	report *domain.RunReport
	err    error
	calls  []driving.RunOptions
}

func (m *mockWatcher) Run(_ context.Context, _ []domain.Account, opts driving.RunOptions) (*domain.RunReport, error) {
	m.calls = append(m.calls, opts)
	return m.report, m.err
}

func (m *mockWatcher) Running() bool { return false }

// mockScheduler implements driving.Scheduler, delivering its reports then
// blocking until the context ends.
type mockScheduler struct {
	reports  []*domain.RunReport
	onReport func(*domain.RunReport)
	stopped  bool
}

func (m *mockScheduler) Start(ctx context.Context) error {
	for _, r := range m.reports {
		m.onReport(r)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockScheduler) Stop() error {
	m.stopped = true
	return nil
}

// testApp is the App wiring used by command tests.
type testApp struct {
	store     *memory.SnapshotStore
	schedule  *memory.SchedulerStore
	config    *mockConfigStore
	watcher   *mockWatcher
	scheduler *mockScheduler
	closed    bool
	opts      Options
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	ta := &testApp{
		store:     memory.NewSnapshotStore(),
		schedule:  memory.NewSchedulerStore(),
		config:    &mockConfigStore{cfg: testConfig()},
		watcher:   &mockWatcher{},
		scheduler: &mockScheduler{},
	}

	old := bootstrap
	SetBootstrap(func(_ context.Context, opts Options) (*App, error) {
		ta.opts = opts
		return &App{
			Config:   ta.config,
			Watcher:  ta.watcher,
			History:  services.NewHistoryService(ta.store),
			Schedule: services.NewScheduleStatusService(ta.schedule),
			NewScheduler: func(onReport func(*domain.RunReport)) driving.Scheduler {
				ta.scheduler.onReport = onReport
				return ta.scheduler
			},
			Now: func() time.Time { return cliNow },
			Close: func() error {
				ta.closed = true
				return nil
			},
		}, nil
	})
	t.Cleanup(func() {
		bootstrap = old
		resetFlags()
	})
	return ta
}

// record commits a document for a case as the writer would.
func (ta *testApp) record(t *testing.T, c domain.Case, raw string, at time.Time) domain.ChangeEntry {
	t.Helper()
	doc, err := domain.ParseStatusDocument([]byte(raw))
	require.NoError(t, err)

	key := domain.CaseKey{Account: "John", CaseNumber: c.Number}
	if c.Number == "IOE0000000003" {
		key.Account = "Jane"
	}
	previous, err := ta.store.ReadLatest(context.Background(), key)
	if errors.Is(err, domain.ErrNotFound) {
		previous = nil
	} else {
		require.NoError(t, err)
	}

	classification, delta := services.Classify(previous, *doc)
	writer := services.NewChangelogWriter(ta.store, func() time.Time { return at })
	entry, err := writer.Record(context.Background(), key, *doc, classification, delta)
	require.NoError(t, err)
	require.NotNil(t, entry)
	return *entry
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// resetFlags restores flag variables, which persist across Execute calls.
func resetFlags() {
	verbose = false
	configPath = ""
	dataDir = ""
	ephemeral = false
	runDryRun = false
	runNoSummary = false
	summaryAnon = false
	summaryShowDates = false
	summaryDaysSinceFiling = false
	historyExportDir = ""
	historyVerify = false
	watchNow = false
	runsLimit = defaultRunsLimit
}
