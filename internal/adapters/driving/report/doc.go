// Package report renders casewatch output for people: the per-run outcome
// list, change alerts, the summary tables grouped by form type and the
// markdown changelog export.
//
// Terminal output is styled with lipgloss. PlainStyles renders the same
// layout without colour for pipes and files.
package report
