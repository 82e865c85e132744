/*
Package sqlite provides a SQLite-backed implementation of absence.Gateway.

PURPOSE:
  Persists users, projects, assignments, events and the audit log in a single
  SQLite file. Used by the server when DB_DRIVER=sqlite (the default).

KEY TABLES:
  users:       Employees, managers, admins. Unique username and email.
  projects:    Each with one referring employee (FK users).
  assignments: User membership windows on projects, inclusive dates.
  events:      One row per user per day (UNIQUE(user_id, date)).
  audit_log:   Append-only history of state changes.

DATES:
  Calendar days are stored as TEXT "2006-01-02", so lexical comparison is
  date comparison. Timestamps are RFC3339Nano in UTC.

CONSTRAINTS -> ERRORS:
  UNIQUE(events.user_id, events.date) -> absence.ErrUserNotAvailable
  UNIQUE(users.username|email)        -> absence.ErrUserAlreadyExists
  FOREIGN KEY                         -> generic.ErrNotFound

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The PostgreSQL store relies on the
  database instead.

WAL MODE:
  Opened with WAL so readers do not block the single writer.

MIGRATION:
  Schema is auto-migrated on New(). The PostgreSQL store uses versioned
  migrations run by cmd/migrate.

SEE ALSO:
  - absence/store.go: Gateway interfaces
  - store/memory: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

// Store implements absence.Gateway using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ absence.Gateway = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE COLLATE NOCASE,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		role TEXT NOT NULL CHECK (role IN ('Employee', 'ProjectManager', 'Admin')),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		referring_employee_id TEXT NOT NULL REFERENCES users(id),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		project_id TEXT NOT NULL REFERENCES projects(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		CHECK (start_date <= end_date)
	);

	-- Active assignment lookups (eligibility hot path)
	CREATE INDEX IF NOT EXISTS idx_assignments_user_window
		ON assignments(user_id, start_date, end_date);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		date TEXT NOT NULL,
		event_type TEXT NOT NULL CHECK (event_type IN ('RemoteWork', 'PaidLeave')),
		status TEXT NOT NULL CHECK (status IN ('Pending', 'Accepted', 'Declined')),
		description TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (user_id, date)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT,
		actor_role TEXT,
		action TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		user_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, ts);
	CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log(subject_id, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u absence.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, string(u.Role), formatTime(u.CreatedAt),
	)
	if err != nil {
		return translate(err, "failed to create user")
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id string) (absence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, role, created_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return absence.User{}, absence.ErrUserNotFound
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]absence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, email, role, created_at FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []absence.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row scanner) (absence.User, error) {
	var (
		u         absence.User
		role      string
		createdAt string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &role, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, err
		}
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Role = absence.Role(role)
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

func (s *Store) CreateProject(ctx context.Context, p absence.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, referring_employee_id, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.ReferringEmployeeID, formatTime(p.CreatedAt),
	)
	if err != nil {
		return translate(err, "failed to create project")
	}
	return nil
}

func (s *Store) FindProject(ctx context.Context, id string) (absence.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, referring_employee_id, created_at FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return absence.Project{}, absence.ErrProjectNotFound
	}
	return p, err
}

func (s *Store) ListProjects(ctx context.Context) ([]absence.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryProjects(ctx,
		`SELECT id, name, referring_employee_id, created_at FROM projects ORDER BY name ASC, id ASC`)
}

func (s *Store) ListProjectsForUser(ctx context.Context, userID string) ([]absence.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryProjects(ctx, `
		SELECT DISTINCT p.id, p.name, p.referring_employee_id, p.created_at
		FROM projects p
		JOIN assignments a ON a.project_id = p.id
		WHERE a.user_id = ?
		ORDER BY p.name ASC, p.id ASC
	`, userID)
}

func (s *Store) queryProjects(ctx context.Context, query string, args ...any) ([]absence.Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []absence.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanProject(row scanner) (absence.Project, error) {
	var (
		p         absence.Project
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.ReferringEmployeeID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (s *Store) CreateAssignment(ctx context.Context, a absence.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (id, user_id, project_id, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ProjectID, a.Start.String(), a.End.String(), formatTime(a.CreatedAt),
	)
	if err != nil {
		return translate(err, "failed to create assignment")
	}
	return nil
}

func (s *Store) FindAssignmentsForUser(ctx context.Context, userID string) ([]absence.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAssignments(ctx, `
		SELECT id, user_id, project_id, start_date, end_date, created_at
		FROM assignments
		WHERE user_id = ?
		ORDER BY start_date ASC, id ASC
	`, userID)
}

func (s *Store) FindActiveAssignments(ctx context.Context, userID string, date generic.TimePoint) ([]absence.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := date.String()
	return s.queryAssignments(ctx, `
		SELECT id, user_id, project_id, start_date, end_date, created_at
		FROM assignments
		WHERE user_id = ? AND start_date <= ? AND end_date >= ?
		ORDER BY start_date ASC, id ASC
	`, userID, d, d)
}

func (s *Store) FindAssignment(ctx context.Context, id string) (absence.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assignments, err := s.queryAssignments(ctx, `
		SELECT id, user_id, project_id, start_date, end_date, created_at
		FROM assignments
		WHERE id = ?
	`, id)
	if err != nil {
		return absence.Assignment{}, err
	}
	if len(assignments) == 0 {
		return absence.Assignment{}, absence.ErrAssignmentNotFound
	}
	return assignments[0], nil
}

func (s *Store) ListAssignments(ctx context.Context) ([]absence.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAssignments(ctx, `
		SELECT id, user_id, project_id, start_date, end_date, created_at
		FROM assignments
		ORDER BY start_date ASC, id ASC
	`)
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]absence.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []absence.Assignment
	for rows.Next() {
		var (
			a                     absence.Assignment
			start, end, createdAt string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProjectID, &start, &end, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if a.Start, err = generic.ParseDate(start); err != nil {
			return nil, err
		}
		if a.End, err = generic.ParseDate(end); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Store) CreateEvent(ctx context.Context, e absence.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, date, event_type, status, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Date.String(), string(e.Type), string(e.Status),
		nullString(e.Description), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return translate(err, "failed to create event")
	}
	return nil
}

const eventColumns = `id, user_id, date, event_type, status, description, created_at, updated_at`

func (s *Store) FindEvent(ctx context.Context, id string) (absence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, err := s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err != nil {
		return absence.Event{}, err
	}
	if len(events) == 0 {
		return absence.Event{}, absence.ErrEventNotFound
	}
	return events[0], nil
}

func (s *Store) FindEventsForUser(ctx context.Context, userID string) ([]absence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE user_id = ? ORDER BY date ASC, id ASC`, userID)
}

func (s *Store) ListEvents(ctx context.Context) ([]absence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY date ASC, id ASC`)
}

// UpdateEventStatus changes the status only while it still equals from.
func (s *Store) UpdateEventStatus(ctx context.Context, id string, from, to absence.EventStatus, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(at), id, string(from),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update event status: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]absence.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []absence.Event
	for rows.Next() {
		var (
			e                       absence.Event
			date, eventType, status string
			description             sql.NullString
			createdAt, updatedAt    string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &date, &eventType, &status, &description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if e.Date, err = generic.ParseDate(date); err != nil {
			return nil, err
		}
		e.Type = absence.EventType(eventType)
		e.Status = absence.EventStatus(status)
		e.Description = description.String
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, actor_role, action, subject_id, user_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, formatTime(entry.Timestamp), nullString(entry.ActorID), nullString(entry.ActorRole),
		string(entry.Action), entry.SubjectID, nullString(entry.UserID), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *filter.UserID)
	}
	if filter.SubjectID != nil {
		where, args = append(where, "subject_id = ?"), append(args, *filter.SubjectID)
	}
	if filter.ActorID != nil {
		where, args = append(where, "actor_id = ?"), append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.From != nil {
		where, args = append(where, "ts >= ?"), append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where, args = append(where, "ts <= ?"), append(args, formatTime(*filter.To))
	}

	query := `SELECT id, ts, actor_id, actor_role, action, subject_id, user_id, payload_json FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e                          generic.AuditEntry
			ts, action                 string
			actorID, actorRole, userID sql.NullString
			payload                    sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &actorID, &actorRole, &action, &e.SubjectID, &userID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		e.ActorID = actorID.String
		e.ActorRole = actorRole.String
		e.Action = generic.AuditAction(action)
		e.UserID = userID.String
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// translate maps SQLite constraint violations to domain errors.
func translate(err error, msg string) error {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w", msg, err)
	}

	switch {
	case se.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(se.Error(), "events."):
		return absence.ErrUserNotAvailable
	case se.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(se.Error(), "users."):
		return absence.ErrUserAlreadyExists
	case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%s: %w", msg, generic.ErrConflict)
	case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%s: referenced row %w", msg, generic.ErrNotFound)
	case se.ExtendedCode == sqlite3.ErrConstraintCheck:
		return fmt.Errorf("%s: %w: %v", msg, generic.ErrInvalidInput, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
