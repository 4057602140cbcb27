package contextutils

import "time"

// DayUTC truncates t to midnight UTC of the same calendar day.
func DayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of UTC calendar days from a to b.
// It is negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(DayUTC(b).Sub(DayUTC(a)).Hours() / 24)
}

// HourAgo returns the start of the trailing one-hour window ending at t.
func HourAgo(t time.Time) time.Time {
	return t.Add(-time.Hour)
}
