package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// TaskStatus pairs a scheduled task with its most recent runs.
type TaskStatus struct {
	Task    domain.ScheduledTask
	Results []domain.TaskResult
}

// RenderSchedule writes the state of each scheduled task and a table of its
// recent runs, newest first.
func RenderSchedule(w io.Writer, tasks []TaskStatus, now time.Time, styles *Styles) error {
	if styles == nil {
		styles = PlainStyles()
	}

	var b strings.Builder
	b.WriteString(styles.Title.Render("Scheduled checks") + "\n")
	if len(tasks) == 0 {
		b.WriteString("\nNothing scheduled yet. Start casewatch watch first.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	for _, ts := range tasks {
		task := ts.Task
		b.WriteString("\n" + styles.Subtitle.Render(taskTitle(task)) + "\n")
		if !task.Enabled {
			b.WriteString(styles.Muted.Render("  Disabled") + "\n")
		} else {
			b.WriteString(fmt.Sprintf("  Every %s, next %s\n", task.Interval, nextRun(task.NextRun, now)))
		}
		if !task.LastSuccess.IsZero() {
			b.WriteString("  Last success: " + Since(task.LastSuccess, now) + "\n")
		}
		if task.LastError != "" {
			b.WriteString(styles.Error.Render("  Last error: "+task.LastError) + "\n")
		}

		if len(ts.Results) == 0 {
			b.WriteString(styles.Muted.Render("  No runs recorded") + "\n")
			continue
		}
		b.WriteString(resultsTable(ts.Results, now, styles) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func taskTitle(task domain.ScheduledTask) string {
	if task.Name == "" {
		return task.ID
	}
	return task.Name + " (" + task.ID + ")"
}

func nextRun(at, now time.Time) string {
	if !at.After(now) {
		return "due now"
	}
	return "in " + at.Sub(now).Round(time.Minute).String()
}

func resultsTable(results []domain.TaskResult, now time.Time, styles *Styles) string {
	failed := make(map[int]bool, len(results))
	rows := make([][]string, len(results))
	for i, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed"
			failed[i] = true
		}
		rows[i] = []string{
			Ago(r.StartedAt, now),
			r.Duration().Round(time.Second).String(),
			status,
			fmt.Sprint(r.Checked),
			fmt.Sprint(r.Changed),
			fmt.Sprint(r.Errored),
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.Border).
		Headers("Started", "Took", "Status", "Checked", "Changed", "Errored").
		Rows(rows...).
		StyleFunc(func(r, _ int) lipgloss.Style {
			switch {
			case r == table.HeaderRow:
				return styles.Header
			case failed[r]:
				return styles.Error.Padding(0, 1)
			default:
				return styles.Cell
			}
		})
	return t.String()
}
