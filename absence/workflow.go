/*
workflow.go - Pending -> Accepted / Declined

FLOW:
  ┌─────────┐  Validate  ┌──────────┐
  │ Pending │ ─────────▶ │ Accepted │
  │         │            └──────────┘
  │         │  Decline   ┌──────────┐
  │         │ ─────────▶ │ Declined │
  └─────────┘            └──────────┘

  1. Load the event (ErrEventNotFound if missing).
  2. Terminal events fail with CannotUpdateError{Reason: terminal}.
  3. The resolver must allow the actor, else CannotUpdateError{Reason: not_eligible}.
  4. UpdateEventStatus(id, Pending, target). The write is conditional on the
     stored status still being Pending, so of two concurrent managers exactly
     one sees affected=1. The other gets CannotUpdateError{Reason: terminal}.
  5. An audit entry is appended. Audit failures are logged, not returned:
     the transition has already been committed.

SEE ALSO:
  - eligibility.go: Resolver
  - store.go: EventStore
*/
package absence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/absence-engine/generic"
)

type Workflow struct {
	Events   EventStore
	Resolver *Resolver
	Audit    generic.AuditLog // optional
	Logger   *slog.Logger
	Now      func() time.Time
}

// Validate accepts a pending event. Returns the number of events changed.
func (w *Workflow) Validate(ctx context.Context, eventID string, actor Actor) (int, error) {
	return w.transition(ctx, eventID, actor, StatusAccepted)
}

// Decline declines a pending event. Returns the number of events changed.
func (w *Workflow) Decline(ctx context.Context, eventID string, actor Actor) (int, error) {
	return w.transition(ctx, eventID, actor, StatusDeclined)
}

func (w *Workflow) transition(ctx context.Context, eventID string, actor Actor, target EventStatus) (int, error) {
	event, err := w.Events.FindEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}

	if event.Status.IsTerminal() {
		return 0, &CannotUpdateError{EventID: eventID, Reason: ReasonTerminal, Status: event.Status}
	}

	ok, err := w.Resolver.CanManagerActOnEvent(ctx, event, actor.ID, actor.Role)
	if err != nil {
		return 0, err
	}
	if !ok {
		w.logger().InfoContext(ctx, "event transition refused",
			slog.String("event_id", eventID),
			slog.String("actor_id", actor.ID),
			slog.String("actor_role", string(actor.Role)),
		)
		return 0, &CannotUpdateError{EventID: eventID, Reason: ReasonNotEligible, Status: event.Status}
	}

	at := w.now()
	affected, err := w.Events.UpdateEventStatus(ctx, eventID, StatusPending, target, at)
	if err != nil {
		return 0, fmt.Errorf("failed to update event status: %w", err)
	}
	if affected == 0 {
		// Lost the race: someone else moved it out of Pending after our read.
		current := target
		if latest, err := w.Events.FindEvent(ctx, eventID); err == nil {
			current = latest.Status
		}
		return 0, &CannotUpdateError{EventID: eventID, Reason: ReasonTerminal, Status: current}
	}

	w.audit(ctx, event, actor, target, at)
	w.logger().InfoContext(ctx, "event transitioned",
		slog.String("event_id", eventID),
		slog.String("user_id", event.UserID),
		slog.String("from", string(StatusPending)),
		slog.String("to", string(target)),
		slog.String("actor_id", actor.ID),
	)
	return int(affected), nil
}

func (w *Workflow) audit(ctx context.Context, event Event, actor Actor, target EventStatus, at time.Time) {
	if w.Audit == nil {
		return
	}
	action := generic.AuditEventValidated
	if target == StatusDeclined {
		action = generic.AuditEventDeclined
	}
	entry := generic.AuditEntry{
		ID:        generic.NewID(),
		Timestamp: at,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Action:    action,
		SubjectID: event.ID,
		UserID:    event.UserID,
		Payload: map[string]string{
			"date": event.Date.String(),
			"type": string(event.Type),
			"from": string(StatusPending),
			"to":   string(target),
		},
	}
	if err := w.Audit.AppendAudit(ctx, entry); err != nil {
		w.logger().ErrorContext(ctx, "failed to append audit entry",
			slog.String("event_id", event.ID),
			slog.Any("error", err),
		)
	}
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *Workflow) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
