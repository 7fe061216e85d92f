package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
)

// schedulerStore implements driven.SchedulerStore.
type schedulerStore struct {
	store *Store
}

var _ driven.SchedulerStore = (*schedulerStore)(nil)

const taskColumns = `id, name, interval_ns, enabled, last_run, next_run, last_success, last_error`

// GetTask returns nil and no error for a task that was never saved.
func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, taskID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", taskID, err)
	}
	return task, nil
}

// ListTasks returns every task ordered by ID.
func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.store.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// SaveTask creates or replaces a task.
func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil {
		return fmt.Errorf("%w: nil task", domain.ErrInvalidInput)
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			interval_ns = excluded.interval_ns,
			enabled = excluded.enabled,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			last_success = excluded.last_success,
			last_error = excluded.last_error
	`, task.ID, task.Name, int64(task.Interval), task.Enabled,
		nullTime{task.LastRun}, nullTime{task.NextRun}, nullTime{task.LastSuccess}, task.LastError)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", task.ID, err)
	}
	return nil
}

// DeleteTask removes a task. Its results are kept.
func (s *schedulerStore) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM scheduled_tasks WHERE id = ?", taskID); err != nil {
		return fmt.Errorf("deleting task %s: %w", taskID, err)
	}
	return nil
}

// RecordResult appends a run to the task's log.
func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil {
		return fmt.Errorf("%w: nil result", domain.ErrInvalidInput)
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO task_results (task_id, run_id, started_at, ended_at, success, error, checked, changed, errored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.TaskID, result.RunID,
		result.StartedAt.UTC().Format(timeLayout), result.EndedAt.UTC().Format(timeLayout),
		result.Success, result.Error, result.Checked, result.Changed, result.Errored)
	if err != nil {
		return fmt.Errorf("recording result for %s: %w", result.TaskID, err)
	}
	return nil
}

// RecentResults returns up to limit results in reverse insertion order.
// A limit of zero or less returns every result.
func (s *schedulerStore) RecentResults(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT task_id, run_id, started_at, ended_at, success, error, checked, changed, errored
		FROM task_results
		WHERE task_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying results for %s: %w", taskID, err)
	}
	defer rows.Close()

	var results []domain.TaskResult
	for rows.Next() {
		var r domain.TaskResult
		var started, ended nullTime
		if err := rows.Scan(&r.TaskID, &r.RunID, &started, &ended,
			&r.Success, &r.Error, &r.Checked, &r.Changed, &r.Errored); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.StartedAt = started.Time
		r.EndedAt = ended.Time
		results = append(results, r)
	}
	return results, rows.Err()
}

// PruneResults keeps the newest keep results of each task.
func (s *schedulerStore) PruneResults(ctx context.Context, keep int) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM task_results
		WHERE seq IN (
			SELECT seq FROM (
				SELECT seq, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY seq DESC) AS pos
				FROM task_results
			) WHERE pos > ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("pruning results: %w", err)
	}
	return nil
}

// scanTask reads one scheduled_tasks row selected with taskColumns.
func scanTask(row interface{ Scan(...any) error }) (*domain.ScheduledTask, error) {
	var task domain.ScheduledTask
	var interval int64
	var lastRun, nextRun, lastSuccess nullTime

	if err := row.Scan(&task.ID, &task.Name, &interval, &task.Enabled,
		&lastRun, &nextRun, &lastSuccess, &task.LastError); err != nil {
		return nil, err
	}

	task.Interval = time.Duration(interval)
	task.LastRun = lastRun.Time
	task.NextRun = nextRun.Time
	task.LastSuccess = lastSuccess.Time
	return &task, nil
}

// nullTime is a timestamp column where NULL means the zero time.
type nullTime struct {
	time.Time
}

// Value implements driver.Valuer.
func (t nullTime) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UTC().Format(timeLayout), nil
}

// Scan implements sql.Scanner.
func (t *nullTime) Scan(src any) error {
	var text string
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}

	parsed, err := time.Parse(timeLayout, text)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", text, err)
	}
	t.Time = parsed
	return nil
}
