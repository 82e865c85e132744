package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/api"
	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/payroll"
	"github.com/warp/absence-engine/store/memory"
)

type testServer struct {
	t      *testing.T
	router *chi.Mux
	svc    *absence.Service
	tokens *api.Tokens
	admin  absence.User
}

// gateway is what both services read from.
type gateway interface {
	absence.Gateway
	payroll.Source
}

func newTestServer(t *testing.T, health api.Pinger) *testServer {
	t.Helper()
	return newTestServerOn(t, memory.New(), health)
}

func newTestServerOn(t *testing.T, store gateway, health api.Pinger) *testServer {
	t.Helper()
	logger := api.NewLogger(io.Discard, "error", "test", "test")
	policy := factory.DefaultPolicySet()

	svc := absence.NewService(store, policy.Absence, absence.WithLogger(logger))
	pay := payroll.NewService(store, policy.Payroll, logger, 4)
	tokens := api.NewTokens("test-secret")

	h := api.NewHandler(svc, pay, policy, tokens, health, logger)
	h.ScenariosEnabled = true

	admin, err := svc.CreateUser(context.Background(), absence.Actor{}, "root", "root@example.com", absence.RoleAdmin)
	require.NoError(t, err)

	return &testServer{
		t:      t,
		router: api.NewRouter(h, api.RouterOptions{Logger: logger}),
		svc:    svc,
		tokens: tokens,
		admin:  admin,
	}
}

func (s *testServer) token(u absence.User) string {
	s.t.Helper()
	tok, err := s.tokens.Issue(u, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createUser(name string, role absence.Role) absence.User {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/users", s.token(s.admin), api.CreateUserRequest{
		Username: name, Email: name + "@example.com", Role: string(role),
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	dto := decode[api.UserDTO](s.t, rec)
	u, err := s.svc.GetUser(context.Background(), dto.ID)
	require.NoError(s.t, err)
	return u
}

// flakyUsers fails user lookups once down is set, as a lost database would.
type flakyUsers struct {
	*memory.Memory
	down atomic.Bool
}

func (f *flakyUsers) FindUser(ctx context.Context, id string) (absence.User, error) {
	if f.down.Load() {
		return absence.User{}, errors.New("connection refused")
	}
	return f.Memory.FindUser(ctx, id)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// =============================================================================
// HEALTH AND AUTHENTICATION
// =============================================================================

func TestHealth_IsPublic(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "n/a", decode[api.HealthDTO](t, rec).Database)

	down := newTestServer(t, pingerFunc(func(context.Context) error { return errors.New("connection refused") }))
	rec = down.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_RequiresToken(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users", "not-a-jwt", nil).Code)

	other := api.NewTokens("another-secret")
	forged, err := other.Issue(s.admin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users", forged, nil).Code, "wrong signature")

	ghost := absence.User{ID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Role: absence.RoleAdmin}
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users", s.token(ghost), nil).Code, "unknown subject")

	stale := s.admin
	stale.Role = absence.RoleEmployee
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users", s.token(stale), nil).Code, "role mismatch")

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users", s.token(s.admin), nil).Code)
}

func TestAPI_SubjectLookupFailureIsServerError(t *testing.T) {
	// GIVEN: A valid token while the user store is unreachable
	// WHEN: Any authenticated route is called
	// THEN: The caller gets a 500, not a 401 that looks like a logout
	store := &flakyUsers{Memory: memory.New()}
	s := newTestServerOn(t, store, nil)
	token := s.token(s.admin)

	store.down.Store(true)
	rec := s.do(http.MethodGet, "/api/users/me", token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal error", decode[api.ErrorResponse](t, rec).Error)

	store.down.Store(false)
	rec = s.do(http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.admin.ID, decode[api.UserDTO](t, rec).ID)
}

func TestAPI_RoleChecks(t *testing.T) {
	s := newTestServer(t, nil)
	emp := s.createUser("emp", absence.RoleEmployee)
	pm := s.createUser("pm", absence.RoleProjectManager)

	rec := s.do(http.MethodPost, "/api/users", s.token(emp), api.CreateUserRequest{Username: "x", Email: "x@example.com", Role: "Employee"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/projects", s.token(pm), api.CreateProjectRequest{Name: "P", ReferringEmployeeID: pm.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only admins create projects")

	rec = s.do(http.MethodGet, "/api/payroll/meal-vouchers?month=1&year=2024", s.token(pm), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/project-users", s.token(emp), api.CreateAssignmentRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// EVENT FLOW
// =============================================================================

func TestAPI_EventLifecycle(t *testing.T) {
	// GIVEN: An employee assigned to a project referred by m1
	// WHEN: The employee files events and managers act on them
	// THEN: Intake, validation and vouchers follow the rules end to end
	s := newTestServer(t, nil)
	m1 := s.createUser("m1", absence.RoleProjectManager)
	m2 := s.createUser("m2", absence.RoleProjectManager)
	emp := s.createUser("emp", absence.RoleEmployee)

	rec := s.do(http.MethodPost, "/api/projects", s.token(s.admin), api.CreateProjectRequest{Name: "Apollo", ReferringEmployeeID: m1.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	project := decode[api.ProjectDTO](t, rec)

	rec = s.do(http.MethodPost, "/api/projects", s.token(s.admin), api.CreateProjectRequest{Name: "Bad", ReferringEmployeeID: emp.ID})
	assert.Equal(t, http.StatusConflict, rec.Code, "referrer must be a project manager")

	rec = s.do(http.MethodPost, "/api/project-users", s.token(m1), api.CreateAssignmentRequest{
		UserID: emp.ID, ProjectID: project.ID, StartDate: "2024-01-01", EndDate: "2024-03-31",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/project-users", s.token(s.admin), api.CreateAssignmentRequest{
		UserID: emp.ID, ProjectID: project.ID, StartDate: "2024-03-01", EndDate: "2024-04-30",
	})
	assert.Equal(t, http.StatusConflict, rec.Code, "overlapping assignment")

	// File a paid leave day
	rec = s.do(http.MethodPost, "/api/events", s.token(emp), api.CreateEventRequest{Date: "2024-01-15", Type: "PaidLeave", Description: "dentist"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	event := decode[api.EventDTO](t, rec)
	assert.Equal(t, emp.ID, event.UserID, "owner is the token subject")
	assert.Equal(t, "Pending", event.Status)

	// Same day again
	rec = s.do(http.MethodPost, "/api/events", s.token(emp), api.CreateEventRequest{Date: "2024-01-15", Type: "RemoteWork"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(absence.UnavailableSameDay), decode[api.ErrorResponse](t, rec).Reason)

	rec = s.do(http.MethodGet, "/api/events/availability?date=2024-01-15&event_type=RemoteWork", s.token(emp), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[api.AvailabilityDTO](t, rec).Available)

	rec = s.do(http.MethodPost, "/api/events", s.token(emp), api.CreateEventRequest{Date: "15/01/2024", Type: "PaidLeave"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// m2 does not refer Apollo
	rec = s.do(http.MethodGet, "/api/events/"+event.ID+"/eligibility", s.token(m2), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[api.EligibilityDTO](t, rec).CanAct)

	rec = s.do(http.MethodPost, "/api/events/"+event.ID+"/validate", s.token(m2), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(absence.ReasonNotEligible), decode[api.ErrorResponse](t, rec).Reason)

	rec = s.do(http.MethodPost, "/api/events/"+event.ID+"/validate", s.token(emp), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// m1 validates
	rec = s.do(http.MethodPost, "/api/events/"+event.ID+"/validate", s.token(m1), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	change := decode[api.StatusChangeDTO](t, rec)
	assert.Equal(t, 1, change.Affected)
	assert.Equal(t, "Accepted", change.Event.Status)

	// Terminal now
	rec = s.do(http.MethodPost, "/api/events/"+event.ID+"/decline", s.token(s.admin), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(absence.ReasonTerminal), decode[api.ErrorResponse](t, rec).Reason)

	rec = s.do(http.MethodGet, "/api/events/00000000-0000-4000-8000-000000000000", s.token(emp), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// January 2024: 23 business days, one accepted absence
	rec = s.do(http.MethodGet, "/api/users/"+emp.ID+"/meal-vouchers?month=1&year=2024", s.token(emp), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[api.MealVoucherDTO](t, rec)
	assert.Equal(t, 23, st.BusinessDays)
	assert.Equal(t, 1, st.DeductedDays)
	assert.Equal(t, 176, st.Vouchers)
	assert.Equal(t, []string{event.ID}, st.Deducted)

	rec = s.do(http.MethodGet, "/api/users/"+emp.ID+"/meal-vouchers?month=13&year=2024", s.token(emp), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Audit trail as admin
	rec = s.do(http.MethodGet, "/api/audit?subject_id="+event.ID, s.token(s.admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]api.AuditEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "event_created", entries[0].Action)
	assert.Equal(t, "event_validated", entries[1].Action)
	assert.Equal(t, m1.ID, entries[1].ActorID)

	rec = s.do(http.MethodGet, "/api/users/"+emp.ID+"/projects", s.token(emp), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.ProjectDTO](t, rec), 1)
}

func TestAPI_ProjectReadsAreScopedForEmployees(t *testing.T) {
	// GIVEN: Two projects, emp assigned to Apollo only, other on Gemini
	// WHEN: Employees and managers read projects and assignments
	// THEN: Employees see only their own, managers see everything
	s := newTestServer(t, nil)
	m1 := s.createUser("m1", absence.RoleProjectManager)
	m2 := s.createUser("m2", absence.RoleProjectManager)
	emp := s.createUser("emp", absence.RoleEmployee)
	other := s.createUser("other", absence.RoleEmployee)

	createProject := func(name string, referrer absence.User) api.ProjectDTO {
		rec := s.do(http.MethodPost, "/api/projects", s.token(s.admin), api.CreateProjectRequest{Name: name, ReferringEmployeeID: referrer.ID})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[api.ProjectDTO](t, rec)
	}
	assign := func(manager, u absence.User, p api.ProjectDTO) api.AssignmentDTO {
		rec := s.do(http.MethodPost, "/api/project-users", s.token(manager), api.CreateAssignmentRequest{
			UserID: u.ID, ProjectID: p.ID, StartDate: "2024-01-01", EndDate: "2024-06-30",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[api.AssignmentDTO](t, rec)
	}

	apollo := createProject("Apollo", m1)
	gemini := createProject("Gemini", m2)
	mine := assign(m1, emp, apollo)
	theirs := assign(m2, other, gemini)

	// /users/me
	rec := s.do(http.MethodGet, "/api/users/me", s.token(emp), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "emp", decode[api.UserDTO](t, rec).Username)

	// Project list
	rec = s.do(http.MethodGet, "/api/projects", s.token(emp), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	projects := decode[[]api.ProjectDTO](t, rec)
	require.Len(t, projects, 1)
	assert.Equal(t, apollo.ID, projects[0].ID)

	rec = s.do(http.MethodGet, "/api/projects", s.token(m1), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.ProjectDTO](t, rec), 2)

	// Single project
	rec = s.do(http.MethodGet, "/api/projects/"+apollo.ID, s.token(emp), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Apollo", decode[api.ProjectDTO](t, rec).Name)

	rec = s.do(http.MethodGet, "/api/projects/"+gemini.ID, s.token(emp), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "not assigned")

	rec = s.do(http.MethodGet, "/api/projects/00000000-0000-4000-8000-000000000000", s.token(emp), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "unknown project looks the same to an employee")

	rec = s.do(http.MethodGet, "/api/projects/"+gemini.ID, s.token(m1), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/projects/00000000-0000-4000-8000-000000000000", s.token(m1), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Assignments
	rec = s.do(http.MethodGet, "/api/project-users", s.token(emp), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assignments := decode[[]api.AssignmentDTO](t, rec)
	require.Len(t, assignments, 1)
	assert.Equal(t, mine.ID, assignments[0].ID)

	rec = s.do(http.MethodGet, "/api/project-users", s.token(s.admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.AssignmentDTO](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/project-users/"+mine.ID, s.token(emp), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/project-users/"+theirs.ID, s.token(emp), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/project-users/"+theirs.ID, s.token(m1), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, other.ID, decode[api.AssignmentDTO](t, rec).UserID)
}

// =============================================================================
// SCENARIOS AND PAYROLL
// =============================================================================

func TestAPI_VoucherMonthScenario(t *testing.T) {
	s := newTestServer(t, nil)
	adminToken := s.token(s.admin)

	rec := s.do(http.MethodPost, "/api/scenarios/load", adminToken, api.LoadScenarioRequest{ScenarioID: "voucher-month"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loaded := decode[api.LoadScenarioResponse](t, rec)
	require.Len(t, loaded.Users, 2)
	require.Len(t, loaded.Events, 3)
	for _, e := range loaded.Events {
		assert.Equal(t, "Accepted", e.Status)
	}

	// Tokens in the response are usable
	rec = s.do(http.MethodGet, "/api/events", loaded.Users[1].Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/payroll/meal-vouchers?month=4&year=2024", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	lines := decode[[]api.MealVoucherDTO](t, rec)
	require.Len(t, lines, 3)

	byName := map[string]api.MealVoucherDTO{}
	for _, l := range lines {
		byName[l.Username] = l
	}
	assert.Equal(t, 152, byName["voucher-month.adam"].Vouchers)
	assert.Equal(t, 176, byName["voucher-month.mia"].Vouchers)
	assert.Equal(t, 176, byName["root"].Vouchers)

	// Loading twice collides on usernames
	rec = s.do(http.MethodPost, "/api/scenarios/load", adminToken, api.LoadScenarioRequest{ScenarioID: "voucher-month"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/load", adminToken, api.LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_SmallTeamScenario(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/scenarios/load", s.token(s.admin), api.LoadScenarioRequest{ScenarioID: "small-team"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loaded := decode[api.LoadScenarioResponse](t, rec)
	require.Len(t, loaded.Events, 3)

	// maria refers Apollo, where emma works
	maria := loaded.Users[0]
	rec = s.do(http.MethodPost, "/api/events/"+loaded.Events[0].ID+"/validate", maria.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// but not Gemini, where noah works
	rec = s.do(http.MethodPost, "/api/events/"+loaded.Events[2].ID+"/decline", maria.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_GetPolicy(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/api/policy", s.token(s.admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decode[factory.PolicyDocument](t, rec)
	require.NotNil(t, doc.WeeklyCap)
	assert.Equal(t, 2, doc.WeeklyCap.Limit)
}
