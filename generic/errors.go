/*
errors.go - Error kinds shared by every package

PURPOSE:
  The core never panics or uses errors for control flow. Decision functions
  return booleans; operations that can fail return an error that matches
  exactly one KIND below via errors.Is. Callers (the HTTP layer, tests)
  switch on kinds, never on message text.

ERROR KINDS:
  ErrNotFound      - event, project or user missing
  ErrConflict      - availability check failed, or manager not eligible
  ErrInvalidState  - transition attempted on a terminal event
  ErrInvalidPeriod - end date before start date
  ErrInvalidInput  - malformed primitive (date, enum, month)

USAGE:
  Domain packages declare sentinels that wrap a kind:

    var ErrEventNotFound = fmt.Errorf("event %w", generic.ErrNotFound)

  and callers test the kind:

    if generic.IsNotFound(err) { ... }

SEE ALSO:
  - absence/errors.go: Domain sentinels and structured errors
  - api/handlers.go: Kind to HTTP status mapping
*/
package generic

import (
	"errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is the kind for missing entities.
	ErrNotFound = errors.New("not found")

	// ErrConflict is the kind for requests that clash with existing state
	// or with the actor's authority.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState is the kind for transitions out of a terminal state.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidInput is returned for malformed primitives.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is an availability or eligibility conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidState returns true if the error is a transition on a terminal state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidInput)
}
