package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/core/ports/driving"
)

// Ensure ScheduleStatusService implements the interface.
var _ driving.ScheduleStatus = (*ScheduleStatusService)(nil)

// ScheduleStatusService reads watch mode state.
type ScheduleStatusService struct {
	store driven.SchedulerStore
}

// NewScheduleStatusService creates a status reader.
func NewScheduleStatusService(store driven.SchedulerStore) *ScheduleStatusService {
	return &ScheduleStatusService{store: store}
}

// Tasks returns every scheduled task.
func (s *ScheduleStatusService) Tasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Results returns up to limit recent runs of a task, newest first.
func (s *ScheduleStatusService) Results(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidInput)
	}
	results, err := s.store.RecentResults(ctx, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("read results for %s: %w", taskID, err)
	}
	return results, nil
}
