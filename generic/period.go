package generic

import "fmt"

// =============================================================================
// PERIOD - Inclusive range of calendar days
// =============================================================================

// Period is a closed interval [Start, End] of calendar days.
//
// Examples:
//   - Assignment window: 2024-01-01 .. 2024-01-31
//   - A single day: Start == End
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod builds a period and rejects End before Start.
func NewPeriod(start, end TimePoint) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate returns ErrInvalidPeriod when End is before Start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps reports whether two closed periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return RangesOverlap(p.Start, p.End, other.Start, other.End)
}

// RangesOverlap is true iff [startA, endA] and [startB, endB] intersect.
// Bounds are inclusive on both sides, so ranges touching on one day overlap.
func RangesOverlap(startA, endA, startB, endB TimePoint) bool {
	return startA.BeforeOrEqual(endB) && startB.BeforeOrEqual(endA)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// Len is the number of days in the period, 0 for an invalid period.
func (p Period) Len() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
