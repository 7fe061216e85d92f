package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/core/ports/driving"
	"github.com/custodia-labs/casewatch/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// AccountSource returns the accounts to check. It is called before every
// scheduled run so configuration reloads take effect.
type AccountSource func() []domain.Account

// Scheduler runs the case check on its configured interval. Task state is
// persisted, so a restarted watcher picks up the existing schedule instead
// of checking immediately.
type Scheduler struct {
	config   domain.SchedulerConfig
	store    driven.SchedulerStore
	watcher  driving.CaseWatcher
	accounts AccountSource

	// OnReport, if set, receives every completed run report.
	OnReport func(*domain.RunReport)

	// tick is how often the task is checked for being due.
	tick time.Duration
	now  func() time.Time

	mu       sync.Mutex
	running  bool
	checking bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	watcher driving.CaseWatcher,
	accounts AccountSource,
) *Scheduler {
	if config.RetainResults <= 0 {
		config.RetainResults = domain.DefaultRetainResults
	}
	return &Scheduler{
		config:   config,
		store:    store,
		watcher:  watcher,
		accounts: accounts,
		tick:     time.Minute,
		now:      time.Now,
	}
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
// Calling Start on a running scheduler returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	if _, err := s.prepareTask(ctx); err != nil {
		logger.Warn("scheduler: preparing case check: %v", err)
	}

	s.poll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// Stop ends the loop and waits for an in-progress check to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// prepareTask creates the case check task, or brings a stored one in line
// with the configured interval.
func (s *Scheduler) prepareTask(ctx context.Context) (*domain.ScheduledTask, error) {
	task, err := s.store.GetTask(ctx, domain.TaskIDCaseCheck)
	if err != nil {
		return nil, err
	}
	if task == nil {
		task = &domain.ScheduledTask{ID: domain.TaskIDCaseCheck, Name: "Case Check"}
	}

	task.Enabled = s.config.CheckInterval > 0
	if task.Enabled {
		task.Reschedule(s.config.CheckInterval, s.now())
		logger.Debug("scheduler: next case check at %s", task.NextRun.Format(time.RFC3339))
	} else {
		logger.Info("scheduler: case checks disabled")
	}

	return task, s.store.SaveTask(ctx, task)
}

// poll starts the case check if it is due.
func (s *Scheduler) poll(ctx context.Context) {
	task, err := s.store.GetTask(ctx, domain.TaskIDCaseCheck)
	if err != nil {
		logger.Warn("scheduler: reading case check: %v", err)
		return
	}
	if task == nil || !task.Due(s.now()) {
		return
	}
	s.dispatch(ctx, task)
}

// dispatch runs one check in the background. A check still running from an
// earlier tick is not overlapped.
func (s *Scheduler) dispatch(ctx context.Context, task *domain.ScheduledTask) {
	s.mu.Lock()
	if s.checking {
		s.mu.Unlock()
		return
	}
	s.checking = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.checking = false
			s.mu.Unlock()
		}()

		result, err := s.check(ctx)
		task.Complete(result.StartedAt, result.EndedAt, err)
		s.record(ctx, task, result)
	}()
}

// check runs the watcher over the current accounts. Case failures are
// joined into the returned error.
func (s *Scheduler) check(ctx context.Context) (domain.TaskResult, error) {
	started := s.now()
	if s.watcher == nil || s.accounts == nil {
		return domain.TaskResult{TaskID: domain.TaskIDCaseCheck, StartedAt: started, EndedAt: started, Success: true}, nil
	}

	report, err := s.watcher.Run(ctx, s.accounts(), driving.RunOptions{})
	if err != nil {
		return domain.TaskResult{
			TaskID:    domain.TaskIDCaseCheck,
			StartedAt: started,
			EndedAt:   s.now(),
			Error:     err.Error(),
		}, err
	}
	if s.OnReport != nil {
		s.OnReport(report)
	}

	runErr := errors.Join(report.Errors()...)
	return report.TaskResult(domain.TaskIDCaseCheck, runErr), runErr
}

// record persists the task state and the run log row.
func (s *Scheduler) record(ctx context.Context, task *domain.ScheduledTask, result domain.TaskResult) {
	if err := s.store.SaveTask(ctx, task); err != nil {
		logger.Warn("scheduler: saving %s: %v", task.ID, err)
	}
	if err := s.store.RecordResult(ctx, &result); err != nil {
		logger.Warn("scheduler: recording result for %s: %v", task.ID, err)
	}
	if err := s.store.PruneResults(ctx, s.config.RetainResults); err != nil {
		logger.Warn("scheduler: pruning results: %v", err)
	}
}
