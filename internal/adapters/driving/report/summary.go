package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// formOrder lists the form types shown first, in this order. Other form
// types follow alphabetically.
var formOrder = []string{"I-131", "I-765", "I-485"}

const (
	unknownFormType = "Unknown"
	emptyCell       = "·"
	silentCode      = "S"
	noLocation      = "-"
	filingEventCode = "IAF"
)

// CaseSummary is one tracked case as shown in the summary.
type CaseSummary struct {
	Account  domain.Account
	Case     domain.Case
	Snapshot domain.Snapshot

	// SilentUpdates holds the timestamps of silent updates, oldest first.
	SilentUpdates []time.Time
}

// Key returns the storage key of the case.
func (c CaseSummary) Key() domain.CaseKey {
	return c.Account.Key(c.Case)
}

// Label returns the row label. Anonymised labels combine the account's
// anonymous name with the case kind ("Person A AP").
func (c CaseSummary) Label(anon bool) string {
	if anon && c.Account.AnonName != "" {
		return strings.TrimSpace(c.Account.AnonName + " " + c.Case.Kind())
	}
	return c.Case.Nickname
}

// SummaryOptions controls summary rendering.
type SummaryOptions struct {
	// Anon replaces nicknames with anonymised labels.
	Anon bool

	// ShowDates renders M/D dates instead of day counts.
	ShowDates bool

	// DaysSinceFiling counts days from the filing event instead of now.
	DaysSinceFiling bool

	// Changed highlights the rows of cases that changed this run.
	Changed map[domain.CaseKey]bool

	// Now is the reference time for day counts.
	Now time.Time
}

// SilentUpdates returns when each silent update in a history happened,
// using the portal's last-updated time where it parses.
func SilentUpdates(entries []domain.ChangeEntry) []time.Time {
	var out []time.Time
	for _, e := range entries {
		if e.Classification != domain.ClassChanged || !e.Delta.IsSilent() {
			continue
		}
		at := e.DetectedAt
		if t, err := domain.ParseTimestamp(e.Document.UpdatedAt()); err == nil {
			at = t
		}
		out = append(out, at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// RenderSummary writes one table per form type. Columns follow the case
// timeline: each event code and date gets as many columns as the busiest
// case needs, and silent updates get columns of their own.
func RenderSummary(w io.Writer, cases []CaseSummary, opts SummaryOptions, styles *Styles) error {
	if styles == nil {
		styles = PlainStyles()
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	var b strings.Builder
	b.WriteString("\n" + styles.Title.Render("Case Summary") + "\n")
	b.WriteString(styles.Muted.Render("Generated: "+opts.Now.Local().Format("2006-01-02 15:04:05")) + "\n")

	if len(cases) == 0 {
		b.WriteString("\nNo cases recorded yet. Run casewatch run first.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	grouped := make(map[string][]CaseSummary)
	for _, c := range cases {
		form := c.Snapshot.Document.FormType()
		if form == "" {
			form = unknownFormType
		}
		grouped[form] = append(grouped[form], c)
	}

	for _, form := range orderedForms(grouped) {
		group := grouped[form]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Label(opts.Anon) < group[j].Label(opts.Anon)
		})
		b.WriteString("\n")
		b.WriteString(renderFormTable(form, group, opts, styles))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func orderedForms(grouped map[string][]CaseSummary) []string {
	forms := make([]string, 0, len(grouped))
	for _, f := range formOrder {
		if _, ok := grouped[f]; ok {
			forms = append(forms, f)
		}
	}
	var rest []string
	for f := range grouped {
		if !contains(formOrder, f) {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)
	return append(forms, rest...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// column groups occurrences of one event code, or silent updates, on one day.
type column struct {
	code     string
	silent   bool
	date     string
	earliest time.Time
	width    int
}

// occurrence is a dated event or silent update on one case.
type occurrence struct {
	code   string
	silent bool
	at     time.Time
}

func (o occurrence) groupKey() string {
	return fmt.Sprintf("%t|%s|%s", o.silent, o.code, o.at.Format("2006-01-02"))
}

func occurrences(c CaseSummary) []occurrence {
	var out []occurrence
	for _, e := range c.Snapshot.Document.Events {
		if e.Code == "" {
			continue
		}
		t, err := domain.ParseTimestamp(e.Timestamp)
		if err != nil {
			continue
		}
		out = append(out, occurrence{code: e.Code, at: t})
	}
	for _, t := range c.SilentUpdates {
		out = append(out, occurrence{code: silentCode, silent: true, at: t})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

// buildTimeline returns the columns in order of their earliest occurrence.
func buildTimeline(cases []CaseSummary) []*column {
	byKey := make(map[string]*column)
	for _, c := range cases {
		counts := make(map[string]int)
		for _, o := range occurrences(c) {
			key := o.groupKey()
			col, ok := byKey[key]
			if !ok {
				col = &column{code: o.code, silent: o.silent, date: o.at.Format("2006-01-02"), earliest: o.at}
				byKey[key] = col
			}
			if o.at.Before(col.earliest) {
				col.earliest = o.at
			}
			counts[key]++
			if counts[key] > col.width {
				col.width = counts[key]
			}
		}
	}

	cols := make([]*column, 0, len(byKey))
	for _, col := range byKey {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool {
		if !cols[i].earliest.Equal(cols[j].earliest) {
			return cols[i].earliest.Before(cols[j].earliest)
		}
		return cols[i].code < cols[j].code
	})
	return cols
}

// headers lead with the case label and its processing center, then number
// repeated event codes ("FTA0-1", "FTA0-2") and silent
// updates ("S1", "S2").
func headers(cols []*column) []string {
	totals := make(map[string]int)
	for _, col := range cols {
		if !col.silent {
			totals[col.code] += col.width
		}
	}

	out := []string{"Nickname", "Location"}
	seen := make(map[string]int)
	silent := 0
	for _, col := range cols {
		for i := 0; i < col.width; i++ {
			if col.silent {
				silent++
				out = append(out, fmt.Sprintf("%s%d", silentCode, silent))
				continue
			}
			seen[col.code]++
			if totals[col.code] == 1 {
				out = append(out, col.code)
			} else {
				out = append(out, fmt.Sprintf("%s-%d", col.code, seen[col.code]))
			}
		}
	}
	return out
}

func filingTime(c CaseSummary) (time.Time, bool) {
	for _, e := range c.Snapshot.Document.Events {
		if e.Code != filingEventCode {
			continue
		}
		if t, err := domain.ParseTimestamp(e.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func cellText(at time.Time, c CaseSummary, opts SummaryOptions) string {
	switch {
	case opts.ShowDates:
		return ShortDate(at)
	case opts.DaysSinceFiling:
		if filed, ok := filingTime(c); ok {
			return fmt.Sprintf("%dd", DaysBetween(filed, at))
		}
	}
	return fmt.Sprintf("%dd", DaysBetween(at, opts.Now))
}

func row(c CaseSummary, cols []*column, opts SummaryOptions) []string {
	grouped := make(map[string][]time.Time)
	for _, o := range occurrences(c) {
		grouped[o.groupKey()] = append(grouped[o.groupKey()], o.at)
	}

	location := c.Snapshot.Document.Location()
	if location == "" {
		location = noLocation
	}
	cells := []string{c.Label(opts.Anon), location}
	for _, col := range cols {
		times := grouped[fmt.Sprintf("%t|%s|%s", col.silent, col.code, col.date)]
		for i := 0; i < col.width; i++ {
			if i < len(times) {
				cells = append(cells, cellText(times[i], c, opts))
			} else {
				cells = append(cells, emptyCell)
			}
		}
	}
	return cells
}

func renderFormTable(form string, cases []CaseSummary, opts SummaryOptions, styles *Styles) string {
	cols := buildTimeline(cases)

	rows := make([][]string, len(cases))
	changed := make(map[int]bool, len(cases))
	for i, c := range cases {
		rows[i] = row(c, cols, opts)
		changed[i] = opts.Changed[c.Key()]
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.Border).
		Headers(headers(cols)...).
		Rows(rows...).
		StyleFunc(func(r, _ int) lipgloss.Style {
			switch {
			case r == table.HeaderRow:
				return styles.Header
			case changed[r]:
				return styles.Changed.Padding(0, 1)
			default:
				return styles.Cell
			}
		})

	title := form
	if name := cases[0].Snapshot.Document.FormName(); name != "" {
		title += " - " + name
	}
	return styles.Subtitle.Render(title) + "\n" + t.String()
}
