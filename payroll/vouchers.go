/*
Package payroll derives payroll figures from absence data.

PURPOSE:
  Meal vouchers are granted per business day worked. Each accepted event
  (remote work or paid leave) in the month removes one day.

FORMULA:
  vouchers = (BusinessDaysInMonth(month, year) - acceptedEventsInMonth) * voucherValue

  voucherValue defaults to 8 currency units.

  Accepted events dated on a weekend still remove a day. Pending and
  declined events are ignored. The result is not clamped at zero.

EXAMPLE:
  April 2024 has 22 business days. With 3 accepted events:
    (22 - 3) * 8 = 152

SEE ALSO:
  - generic/time.go: BusinessDaysInMonth
  - service.go: per-user statements and the monthly report
*/
package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

// DefaultVoucherValue is the per-day credit when no policy overrides it.
var DefaultVoucherValue = decimal.NewFromInt(8)

// Policy configures the voucher computation. Loaded by factory.
type Policy struct {
	VoucherValue decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{VoucherValue: DefaultVoucherValue}
}

// Validate rejects non-positive voucher values.
func (p Policy) Validate() error {
	if !p.VoucherValue.IsPositive() {
		return fmt.Errorf("%w: voucher value must be positive, got %s", generic.ErrInvalidInput, p.VoucherValue)
	}
	return nil
}

// =============================================================================
// STATEMENT - Breakdown of one user's vouchers for one month
// =============================================================================

type Statement struct {
	UserID       string
	Month        time.Month
	Year         int
	BusinessDays int
	DeductedDays int
	EligibleDays int
	UnitValue    decimal.Decimal
	Total        decimal.Decimal
	Deducted     []string // IDs of the accepted events counted
}

// Vouchers is Total as a whole number of currency units, truncated.
func (s Statement) Vouchers() int {
	return int(s.Total.IntPart())
}

func (s Statement) Amount() generic.Amount {
	return generic.Amount{Value: s.Total, Unit: generic.UnitCurrency}
}

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	Policy Policy
}

func NewCalculator(p Policy) Calculator {
	if p.VoucherValue.IsZero() {
		p.VoucherValue = DefaultVoucherValue
	}
	return Calculator{Policy: p}
}

// Statement computes the breakdown for events of a single user.
func (c Calculator) Statement(events []absence.Event, month time.Month, year int) Statement {
	st := Statement{
		Month:        month,
		Year:         year,
		BusinessDays: generic.BusinessDaysInMonth(month, year),
		UnitValue:    c.Policy.VoucherValue,
	}
	for _, e := range events {
		if e.Status != absence.StatusAccepted || !e.Date.InMonth(month, year) {
			continue
		}
		st.DeductedDays++
		st.Deducted = append(st.Deducted, e.ID)
	}
	st.EligibleDays = st.BusinessDays - st.DeductedDays
	st.Total = decimal.NewFromInt(int64(st.EligibleDays)).Mul(st.UnitValue)
	return st
}

// ComputeMealVouchers returns the voucher count for one user's events at the
// default voucher value.
func ComputeMealVouchers(events []absence.Event, month time.Month, year int) int {
	return NewCalculator(DefaultPolicy()).Statement(events, month, year).Vouchers()
}
