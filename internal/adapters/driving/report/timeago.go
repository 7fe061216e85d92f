package report

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// TimeAgo renders a portal timestamp relative to now, for example
// "3 days and 4 hours ago". Unparseable input is returned unchanged.
func TimeAgo(timestamp string, now time.Time) string {
	t, err := domain.ParseTimestamp(timestamp)
	if err != nil {
		return timestamp
	}
	return Since(t, now)
}

// Since renders the time elapsed from t to now in at most two units.
// Days are followed by hours; minutes are only shown under a day.
func Since(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		return "in the future"
	}

	days := int(d / humanize.Day)
	hours := int(d%humanize.Day) / int(time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, english.Plural(days, "day", ""))
	}
	if hours > 0 {
		parts = append(parts, english.Plural(hours, "hour", ""))
	}
	if minutes > 0 && days == 0 {
		parts = append(parts, english.Plural(minutes, "minute", ""))
	}
	if len(parts) == 0 {
		return "just now"
	}
	return english.WordSeries(parts, "and") + " ago"
}

// Ago renders t relative to now in a single rounded unit ("6 hours ago",
// "2 weeks ago"), for compact table cells.
func Ago(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

// DaysBetween returns the whole days from start to end.
func DaysBetween(start, end time.Time) int {
	return int(end.Sub(start) / humanize.Day)
}

// ShortDate renders a timestamp as M/D.
func ShortDate(t time.Time) string {
	return fmt.Sprintf("%d/%d", t.Month(), t.Day())
}
