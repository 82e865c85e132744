/*
availability.go - Intake rules for new events and assignments

PURPOSE:
  Decides, from what a user already has, whether a new event day or a new
  project assignment window can be accepted for intake.

EVENT RULES:
  1. One event per user per calendar day, whatever its type or status.
     A declined event keeps its day occupied.
  2. Weekly cap: at most WeeklyCap.Limit events of WeeklyCap.Type per ISO
     week (Monday..Sunday). Only applies when the candidate has that type.
     The default cap is 2 PaidLeave per week.

ASSIGNMENT RULE:
  A new window [start, end] is rejected if it overlaps any existing window of
  the same user, inclusive at both ends.

Both checks are pure functions of their inputs. The service holds a per-user
lock around check-then-insert.

SEE ALSO:
  - generic/time.go: SameDay, SameWeek
  - generic/period.go: RangesOverlap
  - service.go: CreateEvent, AssignUser
*/
package absence

import (
	"github.com/warp/absence-engine/generic"
)

// Unavailability names the rule that rejected a candidate.
type Unavailability string

const (
	UnavailableSameDay   Unavailability = "same_day"
	UnavailableWeeklyCap Unavailability = "weekly_cap"
	UnavailableOverlap   Unavailability = "overlapping_assignment"
)

// WeeklyCap limits how many events of Type a user can hold in one ISO week.
// A Limit of zero or less disables the cap.
type WeeklyCap struct {
	Type  EventType
	Limit int
}

var DefaultWeeklyCap = WeeklyCap{Type: EventPaidLeave, Limit: 2}

type AvailabilityChecker struct {
	WeeklyCap WeeklyCap
}

func NewAvailabilityChecker(weekly WeeklyCap) AvailabilityChecker {
	return AvailabilityChecker{WeeklyCap: weekly}
}

// CheckEventAvailability reports whether a user holding `existing` may
// receive a new event of type t on candidate.
func (c AvailabilityChecker) CheckEventAvailability(existing []Event, candidate generic.TimePoint, t EventType) bool {
	_, _, ok := c.ExplainEventAvailability(existing, candidate, t)
	return ok
}

// ExplainEventAvailability is CheckEventAvailability plus the rule that
// failed and the event that triggered it. For the weekly cap the returned
// event is the last one counted.
func (c AvailabilityChecker) ExplainEventAvailability(existing []Event, candidate generic.TimePoint, t EventType) (Unavailability, *Event, bool) {
	capped := c.WeeklyCap.Limit > 0 && t == c.WeeklyCap.Type

	var inWeek int
	var lastInWeek *Event
	for i := range existing {
		e := &existing[i]
		if generic.SameDay(e.Date, candidate) {
			return UnavailableSameDay, e, false
		}
		if capped && e.Type == c.WeeklyCap.Type && generic.SameWeek(e.Date, candidate) {
			inWeek++
			lastInWeek = e
		}
	}

	if capped && inWeek >= c.WeeklyCap.Limit {
		return UnavailableWeeklyCap, lastInWeek, false
	}
	return "", nil, true
}

// CheckAssignmentAvailability reports whether [start, end] is free of every
// existing assignment window.
func CheckAssignmentAvailability(existing []Assignment, start, end generic.TimePoint) bool {
	_, clash := ConflictingAssignment(existing, start, end)
	return !clash
}

// ConflictingAssignment returns the first existing assignment overlapping
// [start, end].
func ConflictingAssignment(existing []Assignment, start, end generic.TimePoint) (Assignment, bool) {
	for _, a := range existing {
		if generic.RangesOverlap(a.Start, a.End, start, end) {
			return a, true
		}
	}
	return Assignment{}, false
}
