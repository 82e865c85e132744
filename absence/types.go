// Package absence implements remote-work and paid-leave requests ("events")
// for employees staffed on projects: availability checks at intake, the
// manager eligibility rule and the Pending -> Accepted/Declined workflow.
package absence

import (
	"fmt"
	"time"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleEmployee       Role = "Employee"
	RoleProjectManager Role = "ProjectManager"
	RoleAdmin          Role = "Admin"
)

// ParseRole accepts the exact role names used on the wire.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleEmployee, RoleProjectManager, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", generic.ErrInvalidInput, s)
}

// IsManager is true for roles that may act on other people's events.
func (r Role) IsManager() bool {
	return r == RoleProjectManager || r == RoleAdmin
}

// Actor is the authenticated identity performing an operation.
// The zero Actor stands for the system itself (seeding, migrations).
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsSystem() bool { return a.ID == "" && a.Role == "" }

// SystemActorRole is recorded in the audit trail for writes made by the
// zero Actor.
const SystemActorRole = "system"

// =============================================================================
// EVENT TYPES AND STATUSES
// =============================================================================

type EventType string

const (
	EventRemoteWork EventType = "RemoteWork"
	EventPaidLeave  EventType = "PaidLeave"
)

func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventRemoteWork, EventPaidLeave:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown event type %q", generic.ErrInvalidInput, s)
}

type EventStatus string

const (
	StatusPending  EventStatus = "Pending"
	StatusAccepted EventStatus = "Accepted"
	StatusDeclined EventStatus = "Declined"
)

// IsTerminal reports whether no further transition is possible.
func (s EventStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusDeclined
}

func ParseEventStatus(s string) (EventStatus, error) {
	switch st := EventStatus(s); st {
	case StatusPending, StatusAccepted, StatusDeclined:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown event status %q", generic.ErrInvalidInput, s)
}

// =============================================================================
// ENTITIES
// =============================================================================

type User struct {
	ID        string
	Username  string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// Project groups assignments under one referring ProjectManager.
type Project struct {
	ID                  string
	Name                string
	ReferringEmployeeID string
	CreatedAt           time.Time
}

// Assignment is a user's membership window on a project, bounds inclusive.
type Assignment struct {
	ID        string
	UserID    string
	ProjectID string
	Start     generic.TimePoint
	End       generic.TimePoint
	CreatedAt time.Time
}

func (a Assignment) Period() generic.Period {
	return generic.Period{Start: a.Start, End: a.End}
}

// ActiveOn reports whether the assignment covers the given day.
func (a Assignment) ActiveOn(d generic.TimePoint) bool {
	return a.Period().Contains(d)
}

// ActiveAssignments keeps the assignments covering d.
func ActiveAssignments(assignments []Assignment, d generic.TimePoint) []Assignment {
	var active []Assignment
	for _, a := range assignments {
		if a.ActiveOn(d) {
			active = append(active, a)
		}
	}
	return active
}

// Event is a single-day remote-work or paid-leave request.
type Event struct {
	ID          string
	UserID      string
	Date        generic.TimePoint
	Type        EventType
	Status      EventStatus
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
