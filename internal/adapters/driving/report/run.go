package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// RenderRunReport writes the per-case outcome of a run followed by a
// change alert for every changed case and a closing tally.
func RenderRunReport(w io.Writer, report *domain.RunReport, now time.Time, styles *Styles) error {
	if styles == nil {
		styles = PlainStyles()
	}

	var b strings.Builder
	title := "casewatch - " + report.StartedAt.Local().Format("2006-01-02 15:04:05")
	if report.DryRun {
		title += " (dry run)"
	}
	b.WriteString(styles.Title.Render(title) + "\n")

	var alerts []domain.CaseResult
	for _, account := range report.Accounts {
		b.WriteString("\n" + styles.Subtitle.Render("Account: "+account.Account) + "\n")
		if account.Status == domain.AccountErrored && account.Err != nil {
			b.WriteString(styles.Error.Render("  Error: "+account.Err.Error()) + "\n")
		}
		for _, c := range account.Cases {
			b.WriteString("  " + outcomeLine(c, report.DryRun, styles) + "\n")
			if c.Outcome == domain.OutcomeChanged && c.Entry != nil {
				alerts = append(alerts, c)
			}
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	for _, c := range alerts {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if err := RenderChangeAlert(w, c.Case, *c.Entry, now, styles); err != nil {
			return err
		}
	}

	changes := report.Count(domain.OutcomeChanged)
	var tally string
	if changes > 0 {
		tally = styles.Changed.Render(fmt.Sprintf("%d CHANGE(S) DETECTED", changes))
	} else {
		tally = styles.Success.Render("All cases checked - no changes")
	}
	if errored := report.Count(domain.OutcomeErrored); errored > 0 {
		tally += styles.Error.Render(fmt.Sprintf(" (%d errored)", errored))
	}
	_, err := io.WriteString(w, "\n"+tally+"\n")
	return err
}

func outcomeLine(c domain.CaseResult, dryRun bool, styles *Styles) string {
	name := c.Case.Nickname
	switch c.Outcome {
	case domain.OutcomeInitial:
		line := name + ": First run - recording initial data"
		if dryRun {
			line = name + ": First run - would record initial data"
		}
		if c.Entry != nil && c.Entry.Document.Location() != "" {
			line += " (location: " + c.Entry.Document.Location() + ")"
		}
		return line
	case domain.OutcomeNoChange:
		return styles.Muted.Render(name + ": No changes")
	case domain.OutcomeChanged:
		summary := ""
		if c.Entry != nil {
			summary = " - " + c.Entry.Summary
		}
		return styles.Changed.Render(name + ": Changed" + summary)
	case domain.OutcomeErrored:
		msg := "unknown error"
		if c.Err != nil {
			msg = c.Err.Error()
		}
		return styles.Error.Render(name + ": ERROR - " + msg)
	default:
		return name + ": " + string(c.Outcome)
	}
}
