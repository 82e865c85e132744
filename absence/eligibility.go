/*
eligibility.go - Who may validate or decline an event

RULE:
  An actor may act on event E (owner U, date D) only if all hold:
    1. E is Pending.
    2. The actor is a ProjectManager or an Admin. Any other role fails closed.
    3. U has at least one assignment active on D.
    4. Admin: (3) is enough.
       ProjectManager: at least one of those active assignments belongs to a
       project whose referring employee is the actor.

  An Admin cannot act on events of a user who was on no project that day.

Decide is the pure form of the rule. Resolver loads active assignments and
project referrers and then calls Decide.

SEE ALSO:
  - workflow.go: consults the resolver before every transition
*/
package absence

import (
	"context"
	"errors"
	"fmt"
)

// Decide applies the eligibility rule to already-loaded data. referrers maps
// project ID to its referring employee ID; missing projects are absent.
func Decide(event Event, actor Actor, active []Assignment, referrers map[string]string) bool {
	if event.Status != StatusPending || !actor.Role.IsManager() {
		return false
	}

	active = ActiveAssignments(active, event.Date)
	if len(active) == 0 {
		return false
	}
	if actor.Role == RoleAdmin {
		return true
	}

	for _, a := range active {
		if ref, ok := referrers[a.ProjectID]; ok && ref == actor.ID {
			return true
		}
	}
	return false
}

// Resolver answers eligibility questions against a gateway.
type Resolver struct {
	Store EligibilityGateway
}

func NewResolver(store EligibilityGateway) *Resolver {
	return &Resolver{Store: store}
}

// CanManagerActOnEvent reports whether managerID, holding role, may validate
// or decline event. Read failures are returned, never treated as "no".
func (r *Resolver) CanManagerActOnEvent(ctx context.Context, event Event, managerID string, role Role) (bool, error) {
	actor := Actor{ID: managerID, Role: role}
	if event.Status != StatusPending || !role.IsManager() {
		return false, nil
	}

	active, err := r.Store.FindActiveAssignments(ctx, event.UserID, event.Date)
	if err != nil {
		return false, fmt.Errorf("failed to load active assignments: %w", err)
	}
	if len(active) == 0 {
		return false, nil
	}
	if role == RoleAdmin {
		return Decide(event, actor, active, nil), nil
	}

	referrers := make(map[string]string, len(active))
	for _, a := range active {
		if _, seen := referrers[a.ProjectID]; seen {
			continue
		}
		p, err := r.Store.FindProject(ctx, a.ProjectID)
		if errors.Is(err, ErrProjectNotFound) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to load project %s: %w", a.ProjectID, err)
		}
		referrers[p.ID] = p.ReferringEmployeeID
	}

	return Decide(event, actor, active, referrers), nil
}
