package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Whole calendar day (no time zones, no sub-day granularity)
// =============================================================================

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates any instant to its calendar day, read in UTC.
func DayOf(t time.Time) TimePoint {
	u := t.UTC()
	return NewTimePoint(u.Year(), u.Month(), u.Day())
}

func Today() TimePoint {
	return DayOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD calendar day.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, s)
	}
	return DayOf(t), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.normalize().AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.normalize().AddDate(0, n, 0)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsWeekend() bool       { wd := tp.Weekday(); return wd == time.Saturday || wd == time.Sunday }
func (tp TimePoint) IsWorkday() bool       { return !tp.IsWeekend() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

// ISOWeek returns the ISO 8601 year and week number (weeks start on Monday).
func (tp TimePoint) ISOWeek() (year, week int) { return tp.normalize().ISOWeek() }

func (tp TimePoint) String() string {
	return tp.Time.Format(DateLayout)
}

// =============================================================================
// CALENDAR COMPARISONS
// =============================================================================

func SameDay(a, b TimePoint) bool {
	return a.Equal(b)
}

// SameWeek compares ISO weeks, so Dec 30 2024 and Jan 3 2025 share a week.
func SameWeek(a, b TimePoint) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.ISOWeek()
	return ay == by && aw == bw
}

func SameMonth(a, b TimePoint) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// InMonth reports whether tp falls in the given month of the given year.
func (tp TimePoint) InMonth(month time.Month, year int) bool {
	return tp.Year() == year && tp.Month() == month
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func DaysBetween(from, to TimePoint) int { return int(to.normalize().Sub(from.normalize()).Hours() / 24) }
func StartOfMonth(year int, month time.Month) TimePoint {
	return NewTimePoint(year, month, 1)
}
func EndOfMonth(year int, month time.Month) TimePoint {
	return DayOf(time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1))
}

// MonthPeriod returns [first day, last day] of a month.
func MonthPeriod(month time.Month, year int) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// BusinessDaysInMonth counts Monday to Friday days in the month.
// Public holidays are not considered.
func BusinessDaysInMonth(month time.Month, year int) int {
	count := 0
	for _, day := range MonthPeriod(month, year).Days() {
		if day.IsWorkday() {
			count++
		}
	}
	return count
}

// ValidMonth reports whether m is in 1..12.
func ValidMonth(m int) bool {
	return m >= int(time.January) && m <= int(time.December)
}
