// Package duedate maps priorities to due dates and shifts existing due dates.
package duedate

import "time"

// Layout is the wire format of a due date.
const Layout = "2006-01-02"

// ExtensionDays is how far one trigger pushes a sibling's due date.
const ExtensionDays = 2

var initialOffsetDays = map[Priority]int{
	PriorityLow:    14,
	PriorityMedium: 7,
	PriorityHigh:   2,
}

const defaultOffsetDays = 7

// OffsetDays returns the initial offset for p. Unknown priorities get the Medium offset.
func OffsetDays(p Priority) int {
	if days, ok := initialOffsetDays[p]; ok {
		return days
	}
	return defaultOffsetDays
}

// Initial returns the due date assigned to a task of priority p on day today.
func Initial(p Priority, today time.Time) time.Time {
	return Day(today).AddDate(0, 0, OffsetDays(p))
}

// Shift moves current by days. ok is false when there is no current due date.
func Shift(current *time.Time, days int) (time.Time, bool) {
	if current == nil || current.IsZero() {
		return time.Time{}, false
	}
	return Day(*current).AddDate(0, 0, days), true
}

// Day truncates t to a calendar day in UTC, keeping t's wall-clock date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Parse reads a YYYY-MM-DD due date. Empty input yields nil.
func Parse(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(Layout, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Format renders a due date as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}
