package domain

import "time"

// TaskIDCaseCheck identifies the periodic check of every configured case.
const TaskIDCaseCheck = "case-check"

// Watch mode defaults.
const (
	DefaultCheckInterval = 6 * time.Hour
	DefaultRetainResults = 100
)

// ScheduledTask is the persisted state of a recurring check. It survives
// restarts so watch mode resumes on the original cadence.
type ScheduledTask struct {
	ID       string
	Name     string
	Interval time.Duration
	Enabled  bool

	LastRun     time.Time
	NextRun     time.Time
	LastSuccess time.Time

	// LastError is the failure of the most recent run, empty after a success.
	LastError string
}

// Due reports whether the task should run at now. A task that has never
// been scheduled is due immediately.
func (t *ScheduledTask) Due(now time.Time) bool {
	return t.Enabled && !t.NextRun.After(now)
}

// Reschedule moves the task to a new interval. The next run is pushed out
// from now so a shortened interval does not fire a burst of checks.
func (t *ScheduledTask) Reschedule(interval time.Duration, now time.Time) {
	if t.Interval == interval && !t.NextRun.IsZero() {
		return
	}
	t.Interval = interval
	t.NextRun = now.Add(interval)
}

// Complete records the end of a run started at startedAt.
func (t *ScheduledTask) Complete(startedAt, endedAt time.Time, err error) {
	t.LastRun = startedAt
	t.NextRun = endedAt.Add(t.Interval)
	if err != nil {
		t.LastError = err.Error()
		return
	}
	t.LastError = ""
	t.LastSuccess = endedAt
}

// TaskResult is one row of a task's run log.
type TaskResult struct {
	TaskID string

	// RunID links to the RunReport, empty when the run never started.
	RunID string

	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	Error     string

	// Case tallies from the run report.
	Checked int
	Changed int
	Errored int
}

// Duration returns how long the run took.
func (r TaskResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// SchedulerConfig holds watch mode settings.
type SchedulerConfig struct {
	// CheckInterval is the time between case checks. Zero disables checks.
	CheckInterval time.Duration

	// RetainResults is how many run results are kept per task.
	RetainResults int
}

// DefaultSchedulerConfig returns the watch mode defaults. The portal
// expects infrequent polling.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CheckInterval: DefaultCheckInterval,
		RetainResults: DefaultRetainResults,
	}
}
