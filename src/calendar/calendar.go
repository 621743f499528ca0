// Package calendar supplies the civil clock for every ledger. All
// accounting runs in a single fixed-offset zone (UTC+9, no DST), so
// window math is plain integer arithmetic and never consults the OS
// timezone database.
package calendar

import (
	"fmt"
	"time"
)

// Zone is the civil timezone all dates and windows are computed in.
var Zone = time.FixedZone("KST", 9*60*60)

// Period selects a reporting window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAll     Period = "all"
)

// Now returns the current instant in the civil zone.
func Now() time.Time {
	return time.Now().In(Zone)
}

// Today returns the current civil date as YYYY-MM-DD.
func Today() string {
	return DateString(Now())
}

// DateString formats an instant's civil date as YYYY-MM-DD.
func DateString(t time.Time) string {
	return t.In(Zone).Format("2006-01-02")
}

// Midnight returns 00:00:00 of the civil day containing t.
func Midnight(t time.Time) time.Time {
	t = t.In(Zone)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Zone)
}

// WeekStart returns the civil date of the Monday on or before t.
func WeekStart(t time.Time) time.Time {
	day := Midnight(t)
	// time.Weekday puts Sunday at 0; shift so Monday is 0.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Window maps (period, base) to the half-open interval [start, end).
// Daily covers base's civil day, weekly the Monday-start week containing
// base, monthly base's calendar month. PeriodAll is handled by callers
// that know their earliest record; Window returns the zero interval for it.
func Window(period Period, base time.Time) (start, end time.Time) {
	base = base.In(Zone)
	switch period {
	case PeriodDaily:
		start = Midnight(base)
		end = start.AddDate(0, 0, 1)
	case PeriodWeekly:
		start = WeekStart(base)
		end = start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start = time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, Zone)
		end = start.AddDate(0, 1, 0)
	case PeriodAll:
		// callers substitute their own bounds
	}
	return start, end
}

// ParsePeriod validates a user-supplied period name.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAll:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// NextDaily returns the next instant at HH:MM civil time strictly after now.
func NextDaily(now time.Time, hour, minute int) time.Time {
	now = now.In(Zone)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, Zone)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
