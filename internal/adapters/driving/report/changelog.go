package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

const entryTimeLayout = "2006-01-02 15:04:05"

// RenderChangelog writes a case's history as a standalone markdown
// document. Relative times are computed against now.
func RenderChangelog(w io.Writer, c domain.Case, entries []domain.ChangeEntry, now time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Case Changelog: %s\n\n", c.Nickname)
	fmt.Fprintf(&b, "**Case Number:** %s\n\n", c.Number)
	b.WriteString("This file tracks all changes detected in this case.\n\n")
	b.WriteString("---\n\n")

	for _, e := range entries {
		heading := e.DetectedAt.Local().Format(entryTimeLayout) + " - " + e.Classification.Reason()
		if e.Delta.IsSilent() {
			heading += " (silent update)"
		}
		fmt.Fprintf(&b, "## %s\n\n", heading)

		switch e.Classification {
		case domain.ClassInitial:
			writeInitial(&b, e.Document, now)
		default:
			writeDelta(&b, e.Delta, now)
		}
		b.WriteString("---\n\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeInitial(b *strings.Builder, doc domain.StatusDocument, now time.Time) {
	b.WriteString("First case data recorded.\n\n")

	if updated := doc.UpdatedAt(); updated != "" {
		fmt.Fprintf(b, "**Last Updated:** %s (%s)\n\n", updated, TimeAgo(updated, now))
	}
	if len(doc.Events) > 0 {
		fmt.Fprintf(b, "**Events (%d):**\n", len(doc.Events))
		for _, e := range doc.Events {
			fmt.Fprintf(b, "- `%s` - %s\n", orUnknown(e.Code), annotated(e.Timestamp, now))
		}
		b.WriteString("\n")
	}
	if len(doc.Notices) > 0 {
		fmt.Fprintf(b, "**Notices (%d):**\n", len(doc.Notices))
		for _, n := range doc.Notices {
			fmt.Fprintf(b, "- %s - %s\n", orUnknown(n.Title), annotated(n.Timestamp, now))
		}
		b.WriteString("\n")
	}
}

func writeDelta(b *strings.Builder, delta domain.Delta, now time.Time) {
	if delta.IsEmpty() {
		b.WriteString("No specific changes detected\n\n")
		return
	}
	for _, fc := range delta.ChangedFields {
		fmt.Fprintf(b, "- **%s**\n", fc.Field)
		fmt.Fprintf(b, "  - Old: `%s`\n", orAbsent(fc.Old))
		fmt.Fprintf(b, "  - New: `%s`\n", orAbsent(fc.New))
	}
	for _, e := range delta.AddedEvents {
		fmt.Fprintf(b, "- **Added event** `%s` - %s\n", orUnknown(e.Code), annotated(e.Timestamp, now))
	}
	for _, n := range delta.AddedNotices {
		fmt.Fprintf(b, "- **Added notice** %s - %s\n", orUnknown(n.Title), annotated(n.Timestamp, now))
	}
	b.WriteString("\n")
}

func annotated(timestamp string, now time.Time) string {
	if timestamp == "" {
		return "no timestamp"
	}
	return fmt.Sprintf("%s (%s)", timestamp, TimeAgo(timestamp, now))
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func orAbsent(s string) string {
	if s == "" {
		return "(absent)"
	}
	return s
}
