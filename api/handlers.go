/*
handlers.go - HTTP API handlers for the absence engine

PURPOSE:
  Exposes users, projects, assignments, events, meal vouchers and the
  audit trail over REST. Parses requests, resolves the caller, delegates
  to absence.Service and payroll.Service, and serializes responses.

ENDPOINTS:
  Users:
    GET    /api/users                        List users
    POST   /api/users                        Create user (Admin)
    GET    /api/users/me                     The caller
    GET    /api/users/{id}                   Get user
    GET    /api/users/{id}/projects          Projects the user was assigned to
    GET    /api/users/{id}/assignments       The user's assignments
    GET    /api/users/{id}/events            The user's events
    GET    /api/users/{id}/meal-vouchers     Monthly statement (?month=&year=)

  Projects:
    GET    /api/projects                     List projects (Employees: their own)
    POST   /api/projects                     Create project (Admin)
    GET    /api/projects/{id}                Get project (Employees: 403 unless assigned)
    GET    /api/project-users                List assignments (Employees: their own)
    GET    /api/project-users/{id}           Get assignment (Employees: 404 unless theirs)
    POST   /api/project-users                Assign user (Admin, ProjectManager)

  Events:
    POST   /api/events                       File an event for the caller
    GET    /api/events                       List events
    GET    /api/events/availability          Dry-run intake check for the caller
    GET    /api/events/{id}                  Get event
    GET    /api/events/{id}/eligibility      Can the caller act on it
    POST   /api/events/{id}/validate         Pending -> Accepted (Admin, ProjectManager)
    POST   /api/events/{id}/decline          Pending -> Declined (Admin, ProjectManager)

  Admin:
    GET    /api/payroll/meal-vouchers        Statements for every user
    GET    /api/audit                        Audit trail
    GET    /api/policy                       Active policy document
    GET    /api/scenarios                    Demo scenarios
    POST   /api/scenarios/load               Load a demo scenario

ERROR HANDLING:
  - 400: Invalid input or period
  - 401: Missing token, or the event cannot be updated
  - 403: Caller role not allowed
  - 404: Resource not found
  - 409: Unavailable day/window, duplicate, ineligible referrer
  - 500: Internal errors (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Token verification and role checks
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/payroll"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Absence *absence.Service
	Payroll *payroll.Service
	Policy  factory.PolicySet
	Tokens  *Tokens

	// Health is optional; nil reports the database as "n/a".
	Health Pinger
	Logger *slog.Logger

	// ScenariosEnabled allows POST /api/scenarios/load.
	ScenariosEnabled bool
}

func NewHandler(svc *absence.Service, pay *payroll.Service, policy factory.PolicySet, tokens *Tokens, health Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Absence: svc, Payroll: pay, Policy: policy, Tokens: tokens, Health: health, Logger: logger}
}

// HealthCheck reports liveness and database reachability.
// GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthDTO{Status: "ok", Database: "n/a"}
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health.Ping(ctx); err != nil {
			h.Logger.WarnContext(r.Context(), "health check failed", slog.Any("error", err))
			resp.Status, resp.Database = "degraded", "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Absence.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(users, toUserDTO))
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.Absence.CreateUser(r.Context(), ActorFrom(r.Context()), req.Username, req.Email, absence.Role(req.Role))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// GetMe returns the authenticated caller.
// GET /api/users/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.Absence.GetUser(r.Context(), ActorFrom(r.Context()).ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Absence.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) ListUserProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Absence.ListProjectsForUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(projects, toProjectDTO))
}

func (h *Handler) ListUserAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.Absence.ListAssignmentsForUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(assignments, toAssignmentDTO))
}

func (h *Handler) ListUserEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Absence.ListEventsForUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(events, toEventDTO))
}

// GetUserMealVouchers returns one user's statement.
// GET /api/users/{id}/meal-vouchers?month=4&year=2024
func (h *Handler) GetUserMealVouchers(w http.ResponseWriter, r *http.Request) {
	month, year, err := monthYear(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	st, err := h.Payroll.MealVouchers(r.Context(), chi.URLParam(r, "id"), month, year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMealVoucherDTO(st))
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Absence.ProjectsVisibleTo(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(projects, toProjectDTO))
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.Absence.ProjectVisibleTo(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.Absence.CreateProject(r.Context(), ActorFrom(r.Context()), req.Name, req.ReferringEmployeeID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(p))
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.Absence.AssignmentsVisibleTo(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(assignments, toAssignmentDTO))
}

func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Absence.AssignmentVisibleTo(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(a))
}

// CreateAssignment puts a user on a project for a date window.
// POST /api/project-users
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	a, err := h.Absence.AssignUser(r.Context(), ActorFrom(r.Context()), req.UserID, req.ProjectID, start, end)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(a))
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// CreateEvent files an event owned by the caller.
// POST /api/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	e, err := h.Absence.CreateEvent(r.Context(), ActorFrom(r.Context()).ID, date, absence.EventType(req.Type), req.Description)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(e))
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Absence.ListEvents(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(events, toEventDTO))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.Absence.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

// CheckAvailability runs the intake check for the caller without writing.
// GET /api/events/availability?date=2024-01-15&event_type=PaidLeave
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := generic.ParseDate(q.Get("date"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	eventType := absence.EventType(q.Get("event_type"))
	userID := ActorFrom(r.Context()).ID

	reason, ok, err := h.Absence.CheckEventAvailability(r.Context(), userID, date, eventType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{
		UserID:    userID,
		Date:      date.String(),
		Type:      string(eventType),
		Available: ok,
		Reason:    string(reason),
	})
}

func (h *Handler) GetEventEligibility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.Absence.CanManagerActOnEvent(r.Context(), id, ActorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EligibilityDTO{EventID: id, CanAct: ok})
}

func (h *Handler) ValidateEvent(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.Absence.Validate)
}

func (h *Handler) DeclineEvent(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.Absence.Decline)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, transition func(context.Context, string, absence.Actor) (int, error)) {
	id := chi.URLParam(r, "id")
	n, err := transition(r.Context(), id, ActorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	e, err := h.Absence.GetEvent(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusChangeDTO{Affected: n, Event: toEventDTO(e)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// MonthlyMealVouchers returns statements for all users, sorted by username.
// GET /api/payroll/meal-vouchers?month=4&year=2024
func (h *Handler) MonthlyMealVouchers(w http.ResponseWriter, r *http.Request) {
	month, year, err := monthYear(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	lines, err := h.Payroll.MonthlyReport(r.Context(), month, year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]MealVoucherDTO, len(lines))
	for i, line := range lines {
		dtos[i] = toMealVoucherDTO(line.Statement)
		dtos[i].Username = line.User.Username
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAudit filters the audit trail.
// GET /api/audit?user_id=&subject_id=&actor_id=&action=&from=&to=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	entries, err := h.Absence.AuditTrail(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toAuditEntryDTO))
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, factory.NewPolicyFactory().ToDocument(h.Policy))
}

// =============================================================================
// HELPERS
// =============================================================================

func monthYear(r *http.Request) (time.Month, int, error) {
	q := r.URL.Query()
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: month must be an integer", generic.ErrInvalidInput)
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: year must be an integer", generic.ErrInvalidInput)
	}
	return time.Month(month), year, nil
}

func auditFilter(r *http.Request) (generic.AuditFilter, error) {
	q := r.URL.Query()
	var f generic.AuditFilter
	if v := q.Get("user_id"); v != "" {
		f.UserID = &v
	}
	if v := q.Get("subject_id"); v != "" {
		f.SubjectID = &v
	}
	if v := q.Get("actor_id"); v != "" {
		f.ActorID = &v
	}
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, generic.AuditAction(a))
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return generic.AuditFilter{}, fmt.Errorf("%w: %s must be RFC 3339", generic.ErrInvalidInput, key)
		}
		*dst = &t
	}
	return f, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, absence.ErrCannotUpdate):
		return http.StatusUnauthorized, "Cannot update event"
	case errors.Is(err, absence.ErrEmployeeNotAllowed), errors.Is(err, absence.ErrNotReferringManager),
		errors.Is(err, absence.ErrNotAssigned):
		return http.StatusForbidden, "Not allowed"
	case generic.IsNotFound(err):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, generic.ErrInvalidInput), errors.Is(err, generic.ErrInvalidPeriod):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, absence.ErrUserNotAvailable):
		return http.StatusConflict, "User not available"
	case generic.IsConflict(err), generic.IsInvalidState(err):
		return http.StatusConflict, "Conflict"
	}
	return http.StatusInternalServerError, "Internal error"
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, status, message, nil)
		return
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var (
		unavailable *absence.UnavailableError
		cannot      *absence.CannotUpdateError
	)
	switch {
	case errors.As(err, &unavailable):
		resp.Reason = string(unavailable.Reason)
	case errors.As(err, &cannot):
		resp.Reason = string(cannot.Reason)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
