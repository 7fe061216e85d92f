package driving

import (
	"context"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// ScheduleStatus reports watch mode state without starting a scheduler.
type ScheduleStatus interface {
	// Tasks returns every scheduled task.
	Tasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// Results returns up to limit recent runs of a task, newest first.
	Results(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)
}
