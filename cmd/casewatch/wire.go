package main

import (
	"context"
	"fmt"

	"github.com/custodia-labs/casewatch/internal/adapters/driven/config/file"
	"github.com/custodia-labs/casewatch/internal/adapters/driven/portal/browser"
	"github.com/custodia-labs/casewatch/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/casewatch/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/casewatch/internal/adapters/driving/cli"
	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/core/ports/driving"
	"github.com/custodia-labs/casewatch/internal/core/services"
	"github.com/custodia-labs/casewatch/internal/logger"
)

// stores groups the persistence ports a command needs.
type stores struct {
	snapshots driven.SnapshotStore
	scheduler driven.SchedulerStore
	lock      driven.RunLock
	close     func() error
}

// wire builds the services for one command invocation.
func wire(_ context.Context, opts cli.Options) (*cli.App, error) {
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = file.DefaultPath(); err != nil {
			return nil, err
		}
	}
	configStore, err := file.NewConfigStore(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := configStore.Config()
	logger.Debug("config loaded from %s", configStore.Path())

	st, err := openStores(opts)
	if err != nil {
		return nil, err
	}
	var release closers
	release = append(release, st.close)

	portal := browser.NewPortal(cfg.Browser, cfg.Portal)
	release = append(release, portal.Close)

	sessions := services.NewSessionManager(portal, services.DefaultSessionConfig())
	release = append(release, sessions.Close)

	fetcher := services.NewCaseFetcher(cfg.Portal.RequestsPerMinute)
	writer := services.NewChangelogWriter(st.snapshots, nil)
	watcher := services.NewRunOrchestrator(sessions, fetcher, writer, st.snapshots, st.lock, services.DefaultRunConfig())

	return &cli.App{
		Config:   configStore,
		Watcher:  watcher,
		History:  services.NewHistoryService(st.snapshots),
		Schedule: services.NewScheduleStatusService(st.scheduler),
		NewScheduler: func(onReport func(*domain.RunReport)) driving.Scheduler {
			s := services.NewScheduler(cfg.SchedulerConfig(), st.scheduler, watcher, configStore.Accounts)
			s.OnReport = onReport
			return s
		},
		Close: release.Close,
	}, nil
}

// openStores opens the SQLite store, or in-memory stores when the run is
// ephemeral.
func openStores(opts cli.Options) (*stores, error) {
	if opts.Ephemeral {
		logger.Debug("using in-memory storage")
		return &stores{
			snapshots: memory.NewSnapshotStore(),
			scheduler: memory.NewSchedulerStore(),
			lock:      memory.NewRunLock(),
			close:     func() error { return nil },
		}, nil
	}

	store, err := sqlite.NewStore(opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Debug("using database %s", store.Path())
	return &stores{
		snapshots: store.SnapshotStore(),
		scheduler: store.SchedulerStore(),
		lock:      store.RunLock(),
		close:     store.Close,
	}, nil
}
