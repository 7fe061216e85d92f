package driven

import (
	"context"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// SchedulerStore persists watch mode state so a restarted watcher keeps
// its cadence, and keeps a bounded log of scheduled runs.
type SchedulerStore interface {
	// GetTask returns the task with the given ID, or nil and no error if
	// it has never been saved.
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)

	// ListTasks returns every task ordered by ID.
	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// SaveTask creates or replaces a task.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error

	// DeleteTask removes a task. Its results are kept.
	DeleteTask(ctx context.Context, taskID string) error

	// RecordResult appends a run to the task's log.
	RecordResult(ctx context.Context, result *domain.TaskResult) error

	// RecentResults returns up to limit results for a task, newest first.
	RecentResults(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)

	// PruneResults keeps the newest keep results of each task.
	PruneResults(ctx context.Context, keep int) error
}
