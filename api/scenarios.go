/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Populates the store with small, realistic data sets through the normal
  service calls, so every availability and eligibility rule applies. The
  response carries a bearer token per created user.

AVAILABLE SCENARIOS:
  small-team:    Two managers, two employees, two projects, pending events
  voucher-month: One employee with three accepted absences in April 2024

HOW SCENARIOS WORK:
  1. Create users (usernames prefixed with the scenario ID)
  2. Create projects referred by the managers
  3. Assign employees
  4. File events as the employees
  5. Validate some of them as the referring manager

USAGE VIA API:
  GET  /api/scenarios
  POST /api/scenarios/load   {"scenario_id": "small-team"}

NOTE:
  Loading a scenario twice fails with 409 on the duplicate usernames.
  Disabled when APP_ENV=production.

SEE ALSO:
  - handlers.go: Error mapping
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ScenarioUserDTO struct {
	User  UserDTO `json:"user"`
	Token string  `json:"token"`
}

type LoadScenarioResponse struct {
	Scenario ScenarioDTO       `json:"scenario"`
	Users    []ScenarioUserDTO `json:"users"`
	Events   []EventDTO        `json:"events"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "small-team",
		Name:        "Small Team",
		Description: "Two project managers, two employees on two projects, pending events to validate",
		Category:    "absence",
	},
	{
		ID:          "voucher-month",
		Name:        "Voucher Month",
		Description: "One employee with three accepted absences in April 2024 (19 of 22 business days)",
		Category:    "payroll",
	},
}

// scenarioLoader records what a loader created.
type scenarioLoader struct {
	h      *Handler
	prefix string
	users  []absence.User
	events []absence.Event
}

func (l *scenarioLoader) user(ctx context.Context, name string, role absence.Role) (absence.User, error) {
	username := l.prefix + "." + name
	u, err := l.h.Absence.CreateUser(ctx, absence.Actor{}, username, username+"@example.com", role)
	if err != nil {
		return absence.User{}, fmt.Errorf("create %s: %w", username, err)
	}
	l.users = append(l.users, u)
	return u, nil
}

func (l *scenarioLoader) event(ctx context.Context, u absence.User, date generic.TimePoint, t absence.EventType, desc string) (absence.Event, error) {
	e, err := l.h.Absence.CreateEvent(ctx, u.ID, date, t, desc)
	if err != nil {
		return absence.Event{}, fmt.Errorf("file %s for %s: %w", t, u.Username, err)
	}
	l.events = append(l.events, e)
	return e, nil
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if !h.ScenariosEnabled {
		writeError(w, http.StatusForbidden, "Scenarios are disabled in this environment", nil)
		return
	}

	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var scenario *ScenarioDTO
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			scenario = &scenarios[i]
		}
	}
	if scenario == nil {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	l := &scenarioLoader{h: h, prefix: scenario.ID}
	var err error
	switch scenario.ID {
	case "small-team":
		err = l.loadSmallTeam(r.Context())
	case "voucher-month":
		err = l.loadVoucherMonth(r.Context())
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := LoadScenarioResponse{Scenario: *scenario, Events: mapSlice(l.events, toEventDTO)}
	for _, u := range l.users {
		token, err := h.Tokens.Issue(u, DefaultTokenTTL)
		if err != nil {
			h.writeServiceError(w, r, fmt.Errorf("issue token: %w", err))
			return
		}
		resp.Users = append(resp.Users, ScenarioUserDTO{User: toUserDTO(u), Token: token})
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// LOADERS
// =============================================================================

func (l *scenarioLoader) loadSmallTeam(ctx context.Context) error {
	maria, err := l.user(ctx, "maria", absence.RoleProjectManager)
	if err != nil {
		return err
	}
	paul, err := l.user(ctx, "paul", absence.RoleProjectManager)
	if err != nil {
		return err
	}
	emma, err := l.user(ctx, "emma", absence.RoleEmployee)
	if err != nil {
		return err
	}
	noah, err := l.user(ctx, "noah", absence.RoleEmployee)
	if err != nil {
		return err
	}

	apollo, err := l.h.Absence.CreateProject(ctx, absence.Actor{}, l.prefix+" Apollo", maria.ID)
	if err != nil {
		return err
	}
	gemini, err := l.h.Absence.CreateProject(ctx, absence.Actor{}, l.prefix+" Gemini", paul.ID)
	if err != nil {
		return err
	}

	if _, err := l.h.Absence.AssignUser(ctx, absence.Actor{}, emma.ID, apollo.ID,
		generic.NewTimePoint(2024, time.January, 1), generic.NewTimePoint(2024, time.June, 30)); err != nil {
		return err
	}
	if _, err := l.h.Absence.AssignUser(ctx, absence.Actor{}, noah.ID, gemini.ID,
		generic.NewTimePoint(2024, time.January, 1), generic.NewTimePoint(2024, time.December, 31)); err != nil {
		return err
	}

	if _, err := l.event(ctx, emma, generic.NewTimePoint(2024, time.January, 15), absence.EventPaidLeave, "dentist"); err != nil {
		return err
	}
	if _, err := l.event(ctx, emma, generic.NewTimePoint(2024, time.January, 16), absence.EventRemoteWork, ""); err != nil {
		return err
	}
	_, err = l.event(ctx, noah, generic.NewTimePoint(2024, time.February, 5), absence.EventPaidLeave, "family")
	return err
}

func (l *scenarioLoader) loadVoucherMonth(ctx context.Context) error {
	mia, err := l.user(ctx, "mia", absence.RoleProjectManager)
	if err != nil {
		return err
	}
	adam, err := l.user(ctx, "adam", absence.RoleEmployee)
	if err != nil {
		return err
	}

	project, err := l.h.Absence.CreateProject(ctx, absence.Actor{}, l.prefix+" Payroll", mia.ID)
	if err != nil {
		return err
	}
	if _, err := l.h.Absence.AssignUser(ctx, absence.Actor{}, adam.ID, project.ID,
		generic.NewTimePoint(2024, time.April, 1), generic.NewTimePoint(2024, time.April, 30)); err != nil {
		return err
	}

	days := []struct {
		day int
		t   absence.EventType
	}{
		{2, absence.EventPaidLeave},
		{9, absence.EventPaidLeave},
		{10, absence.EventRemoteWork},
	}
	manager := absence.Actor{ID: mia.ID, Role: mia.Role}
	for i, d := range days {
		e, err := l.event(ctx, adam, generic.NewTimePoint(2024, time.April, d.day), d.t, "")
		if err != nil {
			return err
		}
		if e.Status != absence.StatusPending {
			continue
		}
		if _, err := l.h.Absence.Validate(ctx, e.ID, manager); err != nil {
			return err
		}
		if l.events[i], err = l.h.Absence.GetEvent(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}
