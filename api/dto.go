/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API, kept apart from the absence and payroll
  types so field names can evolve independently.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Calendar days are "YYYY-MM-DD". Timestamps are RFC 3339 in UTC.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/payroll"
)

// =============================================================================
// USERS, PROJECTS, ASSIGNMENTS
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type ProjectDTO struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	ReferringEmployeeID string `json:"referring_employee_id"`
	CreatedAt           string `json:"created_at"`
}

type CreateProjectRequest struct {
	Name                string `json:"name"`
	ReferringEmployeeID string `json:"referring_employee_id"`
}

type AssignmentDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	CreatedAt string `json:"created_at"`
}

type CreateAssignmentRequest struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// =============================================================================
// EVENTS
// =============================================================================

type EventDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Date        string `json:"date"`
	Type        string `json:"event_type"`
	Status      string `json:"event_status"`
	Description string `json:"event_description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// CreateEventRequest is always filed for the caller.
type CreateEventRequest struct {
	Date        string `json:"date"`
	Type        string `json:"event_type"`
	Description string `json:"event_description"`
}

// StatusChangeDTO is returned by validate and decline.
type StatusChangeDTO struct {
	Affected int      `json:"affected"`
	Event    EventDTO `json:"event"`
}

type AvailabilityDTO struct {
	UserID    string `json:"user_id"`
	Date      string `json:"date"`
	Type      string `json:"event_type"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type EligibilityDTO struct {
	EventID string `json:"event_id"`
	CanAct  bool   `json:"can_act"`
}

// =============================================================================
// PAYROLL
// =============================================================================

type MealVoucherDTO struct {
	UserID       string          `json:"user_id"`
	Username     string          `json:"username,omitempty"`
	Month        int             `json:"month"`
	Year         int             `json:"year"`
	BusinessDays int             `json:"business_days"`
	DeductedDays int             `json:"deducted_days"`
	EligibleDays int             `json:"eligible_days"`
	VoucherValue decimal.Decimal `json:"voucher_value"`
	Total        decimal.Decimal `json:"total"`
	Vouchers     int             `json:"vouchers"`
	Deducted     []string        `json:"deducted_event_ids"`
}

// =============================================================================
// AUDIT, POLICY, ERRORS
// =============================================================================

type AuditEntryDTO struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	ActorID   string            `json:"actor_id,omitempty"`
	ActorRole string            `json:"actor_role,omitempty"`
	Action    string            `json:"action"`
	SubjectID string            `json:"subject_id"`
	UserID    string            `json:"user_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

type PolicyDTO = factory.PolicyDocument

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type HealthDTO struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toUserDTO(u absence.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: formatTimestamp(u.CreatedAt),
	}
}

func toProjectDTO(p absence.Project) ProjectDTO {
	return ProjectDTO{
		ID:                  p.ID,
		Name:                p.Name,
		ReferringEmployeeID: p.ReferringEmployeeID,
		CreatedAt:           formatTimestamp(p.CreatedAt),
	}
}

func toAssignmentDTO(a absence.Assignment) AssignmentDTO {
	return AssignmentDTO{
		ID:        a.ID,
		UserID:    a.UserID,
		ProjectID: a.ProjectID,
		StartDate: a.Start.String(),
		EndDate:   a.End.String(),
		CreatedAt: formatTimestamp(a.CreatedAt),
	}
}

func toEventDTO(e absence.Event) EventDTO {
	return EventDTO{
		ID:          e.ID,
		UserID:      e.UserID,
		Date:        e.Date.String(),
		Type:        string(e.Type),
		Status:      string(e.Status),
		Description: e.Description,
		CreatedAt:   formatTimestamp(e.CreatedAt),
		UpdatedAt:   formatTimestamp(e.UpdatedAt),
	}
}

func toMealVoucherDTO(s payroll.Statement) MealVoucherDTO {
	deducted := s.Deducted
	if deducted == nil {
		deducted = []string{}
	}
	return MealVoucherDTO{
		UserID:       s.UserID,
		Month:        int(s.Month),
		Year:         s.Year,
		BusinessDays: s.BusinessDays,
		DeductedDays: s.DeductedDays,
		EligibleDays: s.EligibleDays,
		VoucherValue: s.UnitValue,
		Total:        s.Total,
		Vouchers:     s.Vouchers(),
		Deducted:     deducted,
	}
}

func toAuditEntryDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		Timestamp: formatTimestamp(e.Timestamp),
		ActorID:   e.ActorID,
		ActorRole: e.ActorRole,
		Action:    string(e.Action),
		SubjectID: e.SubjectID,
		UserID:    e.UserID,
		Payload:   e.Payload,
	}
}

func mapSlice[T, D any](items []T, fn func(T) D) []D {
	out := make([]D, len(items))
	for i, item := range items {
		out[i] = fn(item)
	}
	return out
}
