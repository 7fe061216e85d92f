package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// Highlights returns human descriptions of the notable parts of a delta,
// with times relative to now.
func Highlights(delta domain.Delta, doc domain.StatusDocument, now time.Time) []string {
	var out []string
	for _, fc := range delta.ChangedFields {
		switch {
		case fc.Field == domain.FieldUpdatedAt && doc.UpdatedAt() != "":
			out = append(out, "Case updated "+TimeAgo(doc.UpdatedAt(), now))
		case fc.Field == domain.FieldLocation && fc.Old == "":
			out = append(out, "Receipt location recorded: "+fieldText(fc.New))
		case fc.Field == domain.FieldLocation:
			out = append(out, fmt.Sprintf("Receipt location changed: %s -> %s", fieldText(fc.Old), fieldText(fc.New)))
		}
	}
	for _, e := range delta.AddedEvents {
		out = append(out, strings.TrimSpace(fmt.Sprintf("New '%s' event added %s", e.Code, ago(e.Timestamp, now))))
	}
	for _, n := range delta.AddedNotices {
		out = append(out, strings.TrimSpace(fmt.Sprintf("New notice: '%s' %s", n.Title, ago(n.Timestamp, now))))
	}
	return out
}

// Details returns a line-oriented view of every change in a delta.
func Details(delta domain.Delta) []string {
	var out []string
	for _, fc := range delta.ChangedFields {
		out = append(out, fc.Field+":")
		if fc.Old != "" {
			out = append(out, "  - "+fc.Old)
		}
		if fc.New != "" {
			out = append(out, "  + "+fc.New)
		}
	}
	for _, e := range delta.AddedEvents {
		out = append(out, fmt.Sprintf("+ New item in events: %s %s", e.Code, e.Timestamp))
	}
	for _, n := range delta.AddedNotices {
		out = append(out, fmt.Sprintf("+ New item in notices: %s %s", n.Title, n.Timestamp))
	}
	return out
}

// RenderChangeAlert writes a prominent notice for a changed case.
func RenderChangeAlert(w io.Writer, c domain.Case, entry domain.ChangeEntry, now time.Time, styles *Styles) error {
	if styles == nil {
		styles = PlainStyles()
	}

	var b strings.Builder
	heading := "CHANGE DETECTED: " + c.Nickname
	if entry.Delta.IsSilent() {
		heading = "SILENT UPDATE: " + c.Nickname
	}
	b.WriteString(styles.Changed.Render(heading) + "\n")
	b.WriteString("Case: " + c.Number + "\n")

	if highlights := Highlights(entry.Delta, entry.Document, now); len(highlights) > 0 {
		b.WriteString("\nSummary:\n")
		for _, h := range highlights {
			b.WriteString("  -> " + h + "\n")
		}
	}

	if details := Details(entry.Delta); len(details) > 0 {
		b.WriteString("\nDetails:\n")
		for _, d := range details {
			b.WriteString("  " + d + "\n")
		}
	}

	_, err := io.WriteString(w, styles.Alert.Render(strings.TrimRight(b.String(), "\n"))+"\n")
	return err
}

// fieldText unquotes a JSON string value; other values are returned as is.
func fieldText(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}
	if raw == "" {
		return "none"
	}
	return raw
}

func ago(timestamp string, now time.Time) string {
	if timestamp == "" {
		return ""
	}
	return TimeAgo(timestamp, now)
}
