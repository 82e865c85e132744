package absence

import (
	"context"
	"time"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// GATEWAYS - Persistence ports implemented by store/memory, store/sqlite and
// store/postgres. Lookups by ID return the matching Err*NotFound sentinel.
// =============================================================================

type UserReader interface {
	FindUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

type UserWriter interface {
	// CreateUser fails with ErrUserAlreadyExists on a duplicate username or email.
	CreateUser(ctx context.Context, u User) error
}

type ProjectReader interface {
	FindProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	// ListProjectsForUser returns the distinct projects the user has ever
	// been assigned to.
	ListProjectsForUser(ctx context.Context, userID string) ([]Project, error)
}

type ProjectWriter interface {
	CreateProject(ctx context.Context, p Project) error
}

type AssignmentReader interface {
	FindAssignmentsForUser(ctx context.Context, userID string) ([]Assignment, error)
	// FindActiveAssignments returns the user's assignments whose inclusive
	// window contains date.
	FindActiveAssignments(ctx context.Context, userID string, date generic.TimePoint) ([]Assignment, error)
}

// AssignmentLister backs the assignment read endpoints.
type AssignmentLister interface {
	FindAssignment(ctx context.Context, id string) (Assignment, error)
	ListAssignments(ctx context.Context) ([]Assignment, error)
}

type AssignmentWriter interface {
	CreateAssignment(ctx context.Context, a Assignment) error
}

type EventReader interface {
	FindEvent(ctx context.Context, id string) (Event, error)
	FindEventsForUser(ctx context.Context, userID string) ([]Event, error)
	ListEvents(ctx context.Context) ([]Event, error)
}

type EventWriter interface {
	// CreateEvent fails with ErrUserNotAvailable when the user already has an
	// event on that date.
	CreateEvent(ctx context.Context, e Event) error

	// UpdateEventStatus moves the event to `to` only if its current status is
	// `from`, and returns the number of rows changed (0 or 1).
	UpdateEventStatus(ctx context.Context, id string, from, to EventStatus, at time.Time) (int64, error)
}

// EligibilityGateway is what the resolver needs to read.
type EligibilityGateway interface {
	AssignmentReader
	ProjectReader
}

// EventStore is what the workflow needs.
type EventStore interface {
	EventReader
	EventWriter
}

// UserLocker is implemented by gateways that can serialize one user's writes
// across processes. Gateway calls made with fn's context join the lock's
// transaction.
type UserLocker interface {
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}

// Gateway is the full persistence surface used by Service.
type Gateway interface {
	UserReader
	UserWriter
	ProjectReader
	ProjectWriter
	AssignmentReader
	AssignmentLister
	AssignmentWriter
	EventReader
	EventWriter
	generic.AuditLog
}
