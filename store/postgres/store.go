/*
Package postgres provides a PostgreSQL implementation of absence.Gateway on
top of pgx.

PURPOSE:
  Production storage for multi-instance deployments (DB_DRIVER=postgres).
  Schema lives in store/postgres/migrations and is applied by cmd/migrate.

CONCURRENCY:
  Store implements absence.UserLocker: a user's check-then-insert runs in one
  transaction holding pg_advisory_xact_lock(hashtext(user_id)), so two
  instances cannot both accept a clashing event. Status transitions are a
  single conditional UPDATE and need no lock.

CONSTRAINTS -> ERRORS:
  events_user_date_key             -> absence.ErrUserNotAvailable
  users_username_key / email_key   -> absence.ErrUserAlreadyExists
  23503 foreign_key_violation      -> generic.ErrNotFound
  23514 check_violation            -> generic.ErrInvalidInput

SEE ALSO:
  - store/sqlite: single-file implementation
  - transaction.go: TransactionManager and QueryerFromContext
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
)

// DB is the pool surface the store needs.
type DB interface {
	Queryer
	txStarter
	Ping(ctx context.Context) error
}

type Store struct {
	pool DB
	tx   *TransactionManager
}

var (
	_ absence.Gateway    = (*Store)(nil)
	_ absence.UserLocker = (*Store)(nil)
)

func New(pool DB) *Store {
	return &Store{pool: pool, tx: NewTransactionManager(pool)}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithUserLock runs fn in a read-write transaction holding the user's
// advisory lock until commit.
func (s *Store) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	return s.tx.WithinReadWrite(ctx, func(ctx context.Context) error {
		exec := QueryerFromContext(ctx, s.pool)
		if _, err := exec.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
			return fmt.Errorf("postgres: lock user %s: %w", userID, err)
		}
		return fn(ctx)
	})
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, username, email, role, created_at`

func (s *Store) CreateUser(ctx context.Context, u absence.User) error {
	exec := QueryerFromContext(ctx, s.pool)
	_, err := exec.Exec(ctx, `
		INSERT INTO users (id, username, email, role, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Email, string(u.Role), u.CreatedAt,
	)
	if err != nil {
		return translatePgError(err, "failed to create user")
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id string) (absence.User, error) {
	if !generic.ValidID(id) {
		return absence.User{}, absence.ErrUserNotFound
	}
	exec := QueryerFromContext(ctx, s.pool)
	u, err := scanUser(exec.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return absence.User{}, absence.ErrUserNotFound
	}
	if err != nil {
		return absence.User{}, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]absence.User, error) {
	exec := QueryerFromContext(ctx, s.pool)
	rows, err := exec.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []absence.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (absence.User, error) {
	var (
		u    absence.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &role, &u.CreatedAt); err != nil {
		return absence.User{}, err
	}
	u.Role = absence.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

const projectColumns = `p.id, p.name, p.referring_employee_id, p.created_at`

func (s *Store) CreateProject(ctx context.Context, p absence.Project) error {
	exec := QueryerFromContext(ctx, s.pool)
	_, err := exec.Exec(ctx, `
		INSERT INTO projects (id, name, referring_employee_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.ReferringEmployeeID, p.CreatedAt,
	)
	if err != nil {
		return translatePgError(err, "failed to create project")
	}
	return nil
}

func (s *Store) FindProject(ctx context.Context, id string) (absence.Project, error) {
	if !generic.ValidID(id) {
		return absence.Project{}, absence.ErrProjectNotFound
	}
	exec := QueryerFromContext(ctx, s.pool)
	p, err := scanProject(exec.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return absence.Project{}, absence.ErrProjectNotFound
	}
	if err != nil {
		return absence.Project{}, fmt.Errorf("failed to find project: %w", err)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]absence.Project, error) {
	return s.queryProjects(ctx, `SELECT `+projectColumns+` FROM projects p ORDER BY p.name ASC, p.id ASC`)
}

func (s *Store) ListProjectsForUser(ctx context.Context, userID string) ([]absence.Project, error) {
	return s.queryProjects(ctx, `
		SELECT DISTINCT `+projectColumns+`
		FROM projects p
		JOIN assignments a ON a.project_id = p.id
		WHERE a.user_id = $1
		ORDER BY p.name ASC, p.id ASC`, userID)
}

func (s *Store) queryProjects(ctx context.Context, query string, args ...any) ([]absence.Project, error) {
	exec := QueryerFromContext(ctx, s.pool)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []absence.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanProject(row pgx.Row) (absence.Project, error) {
	var p absence.Project
	if err := row.Scan(&p.ID, &p.Name, &p.ReferringEmployeeID, &p.CreatedAt); err != nil {
		return absence.Project{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

const assignmentColumns = `id, user_id, project_id, start_date, end_date, created_at`

func (s *Store) CreateAssignment(ctx context.Context, a absence.Assignment) error {
	exec := QueryerFromContext(ctx, s.pool)
	_, err := exec.Exec(ctx, `
		INSERT INTO assignments (id, user_id, project_id, start_date, end_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.ProjectID, a.Start.Time, a.End.Time, a.CreatedAt,
	)
	if err != nil {
		return translatePgError(err, "failed to create assignment")
	}
	return nil
}

func (s *Store) FindAssignmentsForUser(ctx context.Context, userID string) ([]absence.Assignment, error) {
	if !generic.ValidID(userID) {
		return nil, nil
	}
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE user_id = $1
		ORDER BY start_date ASC, id ASC`, userID)
}

func (s *Store) FindActiveAssignments(ctx context.Context, userID string, date generic.TimePoint) ([]absence.Assignment, error) {
	if !generic.ValidID(userID) {
		return nil, nil
	}
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE user_id = $1 AND start_date <= $2 AND end_date >= $2
		ORDER BY start_date ASC, id ASC`, userID, date.Time)
}

func (s *Store) FindAssignment(ctx context.Context, id string) (absence.Assignment, error) {
	if !generic.ValidID(id) {
		return absence.Assignment{}, absence.ErrAssignmentNotFound
	}
	assignments, err := s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE id = $1`, id)
	if err != nil {
		return absence.Assignment{}, err
	}
	if len(assignments) == 0 {
		return absence.Assignment{}, absence.ErrAssignmentNotFound
	}
	return assignments[0], nil
}

func (s *Store) ListAssignments(ctx context.Context) ([]absence.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		ORDER BY start_date ASC, id ASC`)
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]absence.Assignment, error) {
	exec := QueryerFromContext(ctx, s.pool)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []absence.Assignment
	for rows.Next() {
		var (
			a          absence.Assignment
			start, end time.Time
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProjectID, &start, &end, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.Start = generic.DayOf(start)
		a.End = generic.DayOf(end)
		a.CreatedAt = a.CreatedAt.UTC()
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// =============================================================================
// EVENTS
// =============================================================================

const eventColumns = `id, user_id, date, event_type, status, COALESCE(description, ''), created_at, updated_at`

func (s *Store) CreateEvent(ctx context.Context, e absence.Event) error {
	exec := QueryerFromContext(ctx, s.pool)
	_, err := exec.Exec(ctx, `
		INSERT INTO events (id, user_id, date, event_type, status, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		e.ID, e.UserID, e.Date.Time, string(e.Type), string(e.Status), e.Description, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return translatePgError(err, "failed to create event")
	}
	return nil
}

func (s *Store) FindEvent(ctx context.Context, id string) (absence.Event, error) {
	if !generic.ValidID(id) {
		return absence.Event{}, absence.ErrEventNotFound
	}
	exec := QueryerFromContext(ctx, s.pool)
	e, err := scanEvent(exec.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return absence.Event{}, absence.ErrEventNotFound
	}
	if err != nil {
		return absence.Event{}, fmt.Errorf("failed to find event: %w", err)
	}
	return e, nil
}

func (s *Store) FindEventsForUser(ctx context.Context, userID string) ([]absence.Event, error) {
	if !generic.ValidID(userID) {
		return nil, nil
	}
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE user_id = $1 ORDER BY date ASC, id ASC`, userID)
}

func (s *Store) ListEvents(ctx context.Context) ([]absence.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY date ASC, id ASC`)
}

// UpdateEventStatus changes the status only while it still equals from.
func (s *Store) UpdateEventStatus(ctx context.Context, id string, from, to absence.EventStatus, at time.Time) (int64, error) {
	if !generic.ValidID(id) {
		return 0, nil
	}
	exec := QueryerFromContext(ctx, s.pool)
	tag, err := exec.Exec(ctx,
		`UPDATE events SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at, id, string(from),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update event status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]absence.Event, error) {
	exec := QueryerFromContext(ctx, s.pool)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []absence.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (absence.Event, error) {
	var (
		e                 absence.Event
		date              time.Time
		eventType, status string
	)
	if err := row.Scan(&e.ID, &e.UserID, &date, &eventType, &status, &e.Description, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return absence.Event{}, err
	}
	e.Date = generic.DayOf(date)
	e.Type = absence.EventType(eventType)
	e.Status = absence.EventStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	exec := QueryerFromContext(ctx, s.pool)
	_, err = exec.Exec(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, actor_role, action, subject_id, user_id, payload)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8)`,
		entry.ID, entry.Timestamp, entry.ActorID, entry.ActorRole,
		string(entry.Action), entry.SubjectID, entry.UserID, payload,
	)
	if err != nil {
		return translatePgError(err, "failed to append audit entry")
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	query, args := auditQuery(filter)

	exec := QueryerFromContext(ctx, s.pool)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e       generic.AuditEntry
			action  string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.ActorRole, &action, &e.SubjectID, &e.UserID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Action = generic.AuditAction(action)
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// auditQuery builds the filtered SELECT with positional placeholders.
func auditQuery(filter generic.AuditFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.SubjectID != nil {
		add("subject_id = $%d", *filter.SubjectID)
	}
	if filter.ActorID != nil {
		add("actor_id = $%d", *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		add("action = ANY($%d)", actions)
	}
	if filter.From != nil {
		add("ts >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("ts <= $%d", *filter.To)
	}

	query := `SELECT id, ts, COALESCE(actor_id, ''), COALESCE(actor_role, ''), action, subject_id, COALESCE(user_id, ''), payload FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY ts ASC, seq ASC", args
}

// =============================================================================
// ERRORS
// =============================================================================

// translatePgError maps constraint violations to domain errors.
func translatePgError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", msg, err)
	}

	switch pgErr.Code {
	case uniqueViolationCode:
		switch pgErr.ConstraintName {
		case "events_user_date_key":
			return absence.ErrUserNotAvailable
		case "users_username_key", "users_email_key":
			return absence.ErrUserAlreadyExists
		}
		return fmt.Errorf("%s: %w", msg, generic.ErrConflict)
	case foreignKeyViolationCode:
		return fmt.Errorf("%s: referenced row %w", msg, generic.ErrNotFound)
	case checkViolationCode:
		return fmt.Errorf("%s: %w: %s", msg, generic.ErrInvalidInput, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
