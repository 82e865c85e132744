// Package memory provides an in-memory absence.Gateway (for testing/dev).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	users       map[string]absence.User
	projects    map[string]absence.Project
	assignments map[string][]absence.Assignment // by user ID, sorted by Start
	events      map[string]absence.Event
	eventDays   map[dayKey]string // (user, date) -> event ID
	audit       []generic.AuditEntry
}

type dayKey struct {
	UserID string
	Date   string
}

func New() *Memory {
	return &Memory{
		users:       make(map[string]absence.User),
		projects:    make(map[string]absence.Project),
		assignments: make(map[string][]absence.Assignment),
		events:      make(map[string]absence.Event),
		eventDays:   make(map[dayKey]string),
	}
}

var _ absence.Gateway = (*Memory)(nil)

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u absence.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return absence.ErrUserAlreadyExists
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) FindUser(_ context.Context, id string) (absence.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return absence.User{}, absence.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]absence.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]absence.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

func (m *Memory) CreateProject(_ context.Context, p absence.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[p.ReferringEmployeeID]; !ok {
		return absence.ErrUserNotFound
	}
	m.projects[p.ID] = p
	return nil
}

func (m *Memory) FindProject(_ context.Context, id string) (absence.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return absence.Project{}, absence.ErrProjectNotFound
	}
	return p, nil
}

func (m *Memory) ListProjects(_ context.Context) ([]absence.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	projects := make([]absence.Project, 0, len(m.projects))
	for _, p := range m.projects {
		projects = append(projects, p)
	}
	sortProjects(projects)
	return projects, nil
}

func (m *Memory) ListProjectsForUser(_ context.Context, userID string) ([]absence.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var projects []absence.Project
	for _, a := range m.assignments[userID] {
		if seen[a.ProjectID] {
			continue
		}
		seen[a.ProjectID] = true
		if p, ok := m.projects[a.ProjectID]; ok {
			projects = append(projects, p)
		}
	}
	sortProjects(projects)
	return projects, nil
}

func sortProjects(ps []absence.Project) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Name != ps[j].Name {
			return ps[i].Name < ps[j].Name
		}
		return ps[i].ID < ps[j].ID
	})
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (m *Memory) CreateAssignment(_ context.Context, a absence.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[a.UserID]; !ok {
		return absence.ErrUserNotFound
	}
	if _, ok := m.projects[a.ProjectID]; !ok {
		return absence.ErrProjectNotFound
	}

	as := m.assignments[a.UserID]
	i := sort.Search(len(as), func(i int) bool { return as[i].Start.After(a.Start) })
	as = append(as, absence.Assignment{})
	copy(as[i+1:], as[i:])
	as[i] = a
	m.assignments[a.UserID] = as
	return nil
}

func (m *Memory) FindAssignmentsForUser(_ context.Context, userID string) ([]absence.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	as := m.assignments[userID]
	result := make([]absence.Assignment, len(as))
	copy(result, as)
	return result, nil
}

func (m *Memory) FindActiveAssignments(_ context.Context, userID string, date generic.TimePoint) ([]absence.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return absence.ActiveAssignments(m.assignments[userID], date), nil
}

func (m *Memory) FindAssignment(_ context.Context, id string) (absence.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, as := range m.assignments {
		for _, a := range as {
			if a.ID == id {
				return a, nil
			}
		}
	}
	return absence.Assignment{}, absence.ErrAssignmentNotFound
}

// ListAssignments returns every assignment ordered by start date.
func (m *Memory) ListAssignments(_ context.Context) ([]absence.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []absence.Assignment
	for _, as := range m.assignments {
		result = append(result, as...)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Start.Equal(result[j].Start) {
			return result[i].Start.Before(result[j].Start)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) CreateEvent(_ context.Context, e absence.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[e.UserID]; !ok {
		return absence.ErrUserNotFound
	}
	k := dayKey{UserID: e.UserID, Date: e.Date.String()}
	if _, taken := m.eventDays[k]; taken {
		return absence.ErrUserNotAvailable
	}
	m.events[e.ID] = e
	m.eventDays[k] = e.ID
	return nil
}

func (m *Memory) FindEvent(_ context.Context, id string) (absence.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return absence.Event{}, absence.ErrEventNotFound
	}
	return e, nil
}

func (m *Memory) FindEventsForUser(_ context.Context, userID string) ([]absence.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []absence.Event
	for _, e := range m.events {
		if e.UserID == userID {
			events = append(events, e)
		}
	}
	sortEvents(events)
	return events, nil
}

func (m *Memory) ListEvents(_ context.Context) ([]absence.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]absence.Event, 0, len(m.events))
	for _, e := range m.events {
		events = append(events, e)
	}
	sortEvents(events)
	return events, nil
}

// UpdateEventStatus is the compare-and-set used by the workflow.
func (m *Memory) UpdateEventStatus(_ context.Context, id string, from, to absence.EventStatus, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok || e.Status != from {
		return 0, nil
	}
	e.Status = to
	e.UpdatedAt = at
	m.events[id] = e
	return 1, nil
}

func sortEvents(es []absence.Event) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].Date.Equal(es[j].Date) {
			return es[i].Date.Before(es[j].Date)
		}
		return es[i].ID < es[j].ID
	})
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}
