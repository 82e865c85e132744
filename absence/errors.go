package absence

import (
	"errors"
	"fmt"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Each wraps exactly one kind from generic/errors.go
// =============================================================================

var (
	ErrEventNotFound   = fmt.Errorf("event %w", generic.ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", generic.ErrNotFound)
	ErrProjectNotFound = fmt.Errorf("project %w", generic.ErrNotFound)

	ErrAssignmentNotFound = fmt.Errorf("assignment %w", generic.ErrNotFound)

	// ErrCannotUpdate is matched by every *CannotUpdateError.
	ErrCannotUpdate = errors.New("cannot update event")

	// ErrUserNotAvailable is returned when an event day or assignment window
	// collides with what the user already has.
	ErrUserNotAvailable = fmt.Errorf("user not available: %w", generic.ErrConflict)

	ErrNotProjectManager   = fmt.Errorf("referring employee must be a project manager: %w", generic.ErrConflict)
	ErrNotReferringManager = fmt.Errorf("only the project's referring manager may assign to it: %w", generic.ErrConflict)
	ErrEmployeeNotAllowed  = fmt.Errorf("employees cannot manage projects: %w", generic.ErrConflict)
	ErrUserAlreadyExists   = fmt.Errorf("username or email already taken: %w", generic.ErrConflict)

	// ErrNotAssigned is returned when an Employee reads a project they were
	// never assigned to.
	ErrNotAssigned = fmt.Errorf("employee is not assigned to this project: %w", generic.ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type CannotUpdateReason string

const (
	// ReasonNotEligible: the actor may not act on this event.
	ReasonNotEligible CannotUpdateReason = "not_eligible"
	// ReasonTerminal: the event already left Pending.
	ReasonTerminal CannotUpdateReason = "terminal"
)

// CannotUpdateError is returned by Validate and Decline. It matches
// ErrCannotUpdate, plus ErrConflict when the actor is not eligible or
// ErrInvalidState when the event is already terminal.
type CannotUpdateError struct {
	EventID string
	Reason  CannotUpdateReason
	Status  EventStatus
}

func (e *CannotUpdateError) Error() string {
	if e.Reason == ReasonTerminal {
		return fmt.Sprintf("cannot update event %s: already %s", e.EventID, e.Status)
	}
	return fmt.Sprintf("cannot update event %s: actor not eligible", e.EventID)
}

func (e *CannotUpdateError) Is(target error) bool {
	switch target {
	case ErrCannotUpdate:
		return true
	case generic.ErrConflict:
		return e.Reason == ReasonNotEligible
	case generic.ErrInvalidState:
		return e.Reason == ReasonTerminal
	}
	return false
}

// UnavailableError explains why intake rejected a day or window.
type UnavailableError struct {
	UserID      string
	Reason      Unavailability
	Date        generic.TimePoint
	Window      generic.Period
	Conflicting string // ID of the clashing event or assignment, when known
}

func (e *UnavailableError) Error() string {
	switch e.Reason {
	case UnavailableOverlap:
		return fmt.Sprintf("user %s not available for %s: overlaps assignment %s", e.UserID, e.Window, e.Conflicting)
	case UnavailableWeeklyCap:
		return fmt.Sprintf("user %s not available on %s: weekly cap reached", e.UserID, e.Date)
	default:
		return fmt.Sprintf("user %s not available on %s: an event already exists for this date", e.UserID, e.Date)
	}
}

func (e *UnavailableError) Unwrap() error {
	return ErrUserNotAvailable
}
