/*
service.go - Intake and read operations over the absence gateway

PURPOSE:
  The entry point used by the HTTP layer. Creates users, projects,
  assignments and events, runs availability checks before every insert,
  and delegates validate/decline to the Workflow.

CONCURRENCY:
  Availability is read-then-decide-then-write. Writes for one user are
  serialized with a KeyedMutex so two requests for the same user cannot both
  pass the check. Stores with a schema also carry UNIQUE(user_id, date) on
  events, which covers several processes sharing a database.

AUTHORITY:
  Role checks on the caller are the API's job. The service only enforces
  rules that depend on data:
  - a project's referring employee must be a ProjectManager
  - a ProjectManager may only assign users to projects they refer
  - an Employee may not create projects or assignments

SEE ALSO:
  - availability.go, eligibility.go, workflow.go
  - api/handlers.go: HTTP mapping
*/
package absence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/absence-engine/generic"
)

type Service struct {
	store    Gateway
	policy   Policy
	checker  AvailabilityChecker
	resolver *Resolver
	workflow *Workflow
	locks    *generic.KeyedMutex
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store Gateway, policy Policy, opts ...Option) *Service {
	s := &Service{
		store:   store,
		policy:  policy,
		checker: NewAvailabilityChecker(policy.WeeklyCap),
		locks:   generic.NewKeyedMutex(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(store)
	s.workflow = &Workflow{
		Events:   store,
		Resolver: s.resolver,
		Audit:    store,
		Logger:   s.logger,
		Now:      s.now,
	}
	return s
}

func (s *Service) Resolver() *Resolver { return s.resolver }

// =============================================================================
// USERS
// =============================================================================

func (s *Service) CreateUser(ctx context.Context, actor Actor, username, email string, role Role) (User, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if username == "" || email == "" {
		return User{}, fmt.Errorf("%w: username and email are required", generic.ErrInvalidInput)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return User{}, err
	}

	u := User{
		ID:        generic.NewID(),
		Username:  username,
		Email:     email,
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return User{}, err
	}

	s.audit(ctx, actor, generic.AuditUserCreated, u.ID, u.ID, map[string]string{
		"username": u.Username,
		"role":     string(u.Role),
	})
	s.logger.InfoContext(ctx, "user created", slog.String("user_id", u.ID), slog.String("role", string(u.Role)))
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.store.FindUser(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

// =============================================================================
// PROJECTS
// =============================================================================

func (s *Service) CreateProject(ctx context.Context, actor Actor, name, referringEmployeeID string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, fmt.Errorf("%w: project name is required", generic.ErrInvalidInput)
	}
	if actor.Role == RoleEmployee {
		return Project{}, ErrEmployeeNotAllowed
	}

	referrer, err := s.store.FindUser(ctx, referringEmployeeID)
	if err != nil {
		return Project{}, err
	}
	if referrer.Role != RoleProjectManager {
		return Project{}, ErrNotProjectManager
	}

	p := Project{
		ID:                  generic.NewID(),
		Name:                name,
		ReferringEmployeeID: referrer.ID,
		CreatedAt:           s.now().UTC(),
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return Project{}, err
	}

	s.audit(ctx, actor, generic.AuditProjectCreated, p.ID, referrer.ID, map[string]string{"name": p.Name})
	s.logger.InfoContext(ctx, "project created", slog.String("project_id", p.ID), slog.String("referring_employee_id", referrer.ID))
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (Project, error) {
	return s.store.FindProject(ctx, id)
}

func (s *Service) ListProjects(ctx context.Context) ([]Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	if _, err := s.store.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListProjectsForUser(ctx, userID)
}

// ProjectsVisibleTo lists every project, or only the actor's own when the
// actor is an Employee.
func (s *Service) ProjectsVisibleTo(ctx context.Context, actor Actor) ([]Project, error) {
	if actor.Role == RoleEmployee {
		return s.store.ListProjectsForUser(ctx, actor.ID)
	}
	return s.store.ListProjects(ctx)
}

// ProjectVisibleTo returns project id. An Employee gets ErrNotAssigned for
// any project they were never assigned to, existing or not.
func (s *Service) ProjectVisibleTo(ctx context.Context, actor Actor, id string) (Project, error) {
	if actor.Role != RoleEmployee {
		return s.GetProject(ctx, id)
	}
	own, err := s.store.ListProjectsForUser(ctx, actor.ID)
	if err != nil {
		return Project{}, err
	}
	for _, p := range own {
		if p.ID == id {
			return p, nil
		}
	}
	return Project{}, ErrNotAssigned
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// AssignmentsVisibleTo lists every assignment, or only the actor's own when
// the actor is an Employee.
func (s *Service) AssignmentsVisibleTo(ctx context.Context, actor Actor) ([]Assignment, error) {
	if actor.Role == RoleEmployee {
		return s.store.FindAssignmentsForUser(ctx, actor.ID)
	}
	return s.store.ListAssignments(ctx)
}

// AssignmentVisibleTo returns assignment id. Another user's assignment is
// reported as not found to an Employee.
func (s *Service) AssignmentVisibleTo(ctx context.Context, actor Actor, id string) (Assignment, error) {
	a, err := s.store.FindAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if actor.Role == RoleEmployee && a.UserID != actor.ID {
		return Assignment{}, ErrAssignmentNotFound
	}
	return a, nil
}

// AssignUser puts userID on projectID for [start, end]. The window may not
// overlap any of the user's existing assignments.
func (s *Service) AssignUser(ctx context.Context, actor Actor, userID, projectID string, start, end generic.TimePoint) (Assignment, error) {
	window, err := generic.NewPeriod(start, end)
	if err != nil {
		return Assignment{}, err
	}
	if actor.Role == RoleEmployee {
		return Assignment{}, ErrEmployeeNotAllowed
	}

	if _, err := s.store.FindUser(ctx, userID); err != nil {
		return Assignment{}, err
	}
	project, err := s.store.FindProject(ctx, projectID)
	if err != nil {
		return Assignment{}, err
	}
	if actor.Role == RoleProjectManager && project.ReferringEmployeeID != actor.ID {
		return Assignment{}, ErrNotReferringManager
	}

	a := Assignment{
		ID:        generic.NewID(),
		UserID:    userID,
		ProjectID: project.ID,
		Start:     window.Start,
		End:       window.End,
		CreatedAt: s.now().UTC(),
	}
	err = s.withUserLock(ctx, userID, func(ctx context.Context) error {
		existing, err := s.store.FindAssignmentsForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load assignments: %w", err)
		}
		if clash, ok := ConflictingAssignment(existing, window.Start, window.End); ok {
			s.logger.DebugContext(ctx, "assignment rejected",
				slog.String("user_id", userID),
				slog.String("window", window.String()),
				slog.String("conflicting_assignment_id", clash.ID),
			)
			return &UnavailableError{
				UserID:      userID,
				Reason:      UnavailableOverlap,
				Window:      window,
				Conflicting: clash.ID,
			}
		}
		return s.store.CreateAssignment(ctx, a)
	})
	if err != nil {
		return Assignment{}, err
	}

	s.audit(ctx, actor, generic.AuditAssignmentCreated, a.ID, userID, map[string]string{
		"project_id": project.ID,
		"start":      a.Start.String(),
		"end":        a.End.String(),
	})
	s.logger.InfoContext(ctx, "user assigned to project",
		slog.String("assignment_id", a.ID),
		slog.String("user_id", userID),
		slog.String("project_id", project.ID),
		slog.String("window", window.String()),
	)
	return a, nil
}

func (s *Service) ListAssignmentsForUser(ctx context.Context, userID string) ([]Assignment, error) {
	if _, err := s.store.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.FindAssignmentsForUser(ctx, userID)
}

// =============================================================================
// EVENTS
// =============================================================================

// CreateEvent records a RemoteWork or PaidLeave day for userID. The owner is
// the actor recorded in the audit trail.
func (s *Service) CreateEvent(ctx context.Context, userID string, date generic.TimePoint, eventType EventType, description string) (Event, error) {
	if _, err := ParseEventType(string(eventType)); err != nil {
		return Event{}, err
	}
	if date.IsZero() {
		return Event{}, fmt.Errorf("%w: event date is required", generic.ErrInvalidInput)
	}
	date = generic.DayOf(date.Time)

	owner, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return Event{}, err
	}

	now := s.now().UTC()
	e := Event{
		ID:          generic.NewID(),
		UserID:      userID,
		Date:        date,
		Type:        eventType,
		Status:      s.policy.InitialStatus(eventType),
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.withUserLock(ctx, userID, func(ctx context.Context) error {
		existing, err := s.store.FindEventsForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load events: %w", err)
		}
		if reason, clash, ok := s.checker.ExplainEventAvailability(existing, date, eventType); !ok {
			uerr := &UnavailableError{UserID: userID, Reason: reason, Date: date}
			if clash != nil {
				uerr.Conflicting = clash.ID
			}
			s.logger.DebugContext(ctx, "event rejected",
				slog.String("user_id", userID),
				slog.String("date", date.String()),
				slog.String("reason", string(reason)),
			)
			return uerr
		}
		if err := s.store.CreateEvent(ctx, e); err != nil {
			var uerr *UnavailableError
			if errors.Is(err, ErrUserNotAvailable) && !errors.As(err, &uerr) {
				return &UnavailableError{UserID: userID, Reason: UnavailableSameDay, Date: date}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return Event{}, err
	}

	s.audit(ctx, Actor{ID: owner.ID, Role: owner.Role}, generic.AuditEventCreated, e.ID, userID, map[string]string{
		"date":   e.Date.String(),
		"type":   string(e.Type),
		"status": string(e.Status),
	})
	s.logger.InfoContext(ctx, "event created",
		slog.String("event_id", e.ID),
		slog.String("user_id", userID),
		slog.String("date", e.Date.String()),
		slog.String("type", string(e.Type)),
		slog.String("status", string(e.Status)),
	)
	return e, nil
}

// CheckEventAvailability runs the intake check without writing anything.
func (s *Service) CheckEventAvailability(ctx context.Context, userID string, date generic.TimePoint, eventType EventType) (Unavailability, bool, error) {
	if _, err := ParseEventType(string(eventType)); err != nil {
		return "", false, err
	}
	if _, err := s.store.FindUser(ctx, userID); err != nil {
		return "", false, err
	}
	existing, err := s.store.FindEventsForUser(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load events: %w", err)
	}
	reason, _, ok := s.checker.ExplainEventAvailability(existing, date, eventType)
	return reason, ok, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	return s.store.FindEvent(ctx, id)
}

func (s *Service) ListEvents(ctx context.Context) ([]Event, error) {
	return s.store.ListEvents(ctx)
}

func (s *Service) ListEventsForUser(ctx context.Context, userID string) ([]Event, error) {
	if _, err := s.store.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.FindEventsForUser(ctx, userID)
}

func (s *Service) Validate(ctx context.Context, eventID string, actor Actor) (int, error) {
	return s.workflow.Validate(ctx, eventID, actor)
}

func (s *Service) Decline(ctx context.Context, eventID string, actor Actor) (int, error) {
	return s.workflow.Decline(ctx, eventID, actor)
}

// CanManagerActOnEvent loads the event and asks the resolver.
func (s *Service) CanManagerActOnEvent(ctx context.Context, eventID string, actor Actor) (bool, error) {
	e, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	return s.resolver.CanManagerActOnEvent(ctx, e, actor.ID, actor.Role)
}

// withUserLock runs fn with the user's writes serialized in this process and,
// when the gateway supports it, across processes.
func (s *Service) withUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if l, ok := s.store.(UserLocker); ok {
		return l.WithUserLock(ctx, userID, fn)
	}
	return fn(ctx)
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Service) AuditTrail(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return s.store.QueryAudit(ctx, filter)
}

func (s *Service) audit(ctx context.Context, actor Actor, action generic.AuditAction, subjectID, userID string, payload map[string]string) {
	entry := generic.AuditEntry{
		ID:        generic.NewID(),
		Timestamp: s.now().UTC(),
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Action:    action,
		SubjectID: subjectID,
		UserID:    userID,
		Payload:   payload,
	}
	if actor.IsSystem() {
		entry.ActorRole = SystemActorRole
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to append audit entry",
			slog.String("action", string(action)),
			slog.String("subject_id", subjectID),
			slog.Any("error", err),
		)
	}
}
