/*
store.go - Audit trail shared by every persistence backend

PURPOSE:
  Records who did what when. The audit log is separate from the domain
  tables: entities carry current state, the audit log carries history.

APPEND-ONLY CONTRACT:
  Like a ledger, the audit log has no Update or Delete. Corrections are
  new entries.

IMPLEMENTATIONS:
  - store/memory/memory.go:     In-memory (tests, dev)
  - store/sqlite/sqlite.go:     SQLite
  - store/postgres/audit.go:    PostgreSQL

SEE ALSO:
  - absence/service.go:  Appends entries for intake
  - absence/workflow.go: Appends entries for transitions
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string // who performed the action
	ActorRole string
	Action    AuditAction
	SubjectID string // the event, assignment, project or user acted on
	UserID    string // the employee the subject belongs to
	Payload   map[string]string
}

type AuditAction string

const (
	AuditUserCreated       AuditAction = "user_created"
	AuditProjectCreated    AuditAction = "project_created"
	AuditAssignmentCreated AuditAction = "assignment_created"
	AuditEventCreated      AuditAction = "event_created"
	AuditEventValidated    AuditAction = "event_validated"
	AuditEventDeclined     AuditAction = "event_declined"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	UserID    *string
	SubjectID *string
	ActorID   *string
	Actions   []AuditAction
	From      *time.Time
	To        *time.Time
}

// Matches reports whether e passes every set criterion of the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.UserID != nil && e.UserID != *f.UserID {
		return false
	}
	if f.SubjectID != nil && e.SubjectID != *f.SubjectID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
