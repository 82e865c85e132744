/*
Package generic provides the domain-agnostic building blocks of the engine.

PURPOSE:
  Calendar math, closed day ranges, error kinds, quantities and the audit
  trail. Nothing in here knows about employees, projects or events; the
  absence and payroll packages build on it.

KEY CONCEPTS:
  - TimePoint: A whole calendar day (time.go)
  - Period: A closed range of days with overlap checks (period.go)
  - Amount: A decimal quantity with a unit (this file)
  - Error kinds: NotFound, Conflict, InvalidState (errors.go)
  - AuditLog: Append-only history (store.go)
  - KeyedMutex: Per-key serialization (locks.go)

DESIGN PRINCIPLES:
  1. Purity: Calendar functions have no side effects and no I/O
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Day granularity: No time zones, no hours, everything is UTC midnight

USAGE:
  d := generic.NewTimePoint(2024, time.January, 15)
  window := generic.Period{Start: jan1, End: jan31}
  window.Contains(d)                                   // true
  generic.BusinessDaysInMonth(time.January, 2024)      // 23

SEE ALSO:
  - absence/: Events, assignments, eligibility, approval workflow
  - payroll/: Meal vouchers
*/
package generic

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays     Unit = "days"
	UnitCurrency Unit = "currency"
)

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) IsZero() bool        { return a.Value.IsZero() }
func (a Amount) String() string      { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewID returns a random (v4) UUID string.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s parses as a UUID.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
