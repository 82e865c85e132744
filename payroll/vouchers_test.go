package payroll_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/payroll"
)

func day(y int, m time.Month, d int) generic.TimePoint {
	return generic.NewTimePoint(y, m, d)
}

func ev(id string, date generic.TimePoint, s absence.EventStatus) absence.Event {
	return absence.Event{ID: id, UserID: "u1", Date: date, Type: absence.EventRemoteWork, Status: s}
}

func TestComputeMealVouchers_TwentyTwoBusinessDaysThreeAccepted(t *testing.T) {
	// GIVEN: April 2024 (22 business days) and 3 accepted events in April
	// WHEN: Computing meal vouchers
	// THEN: (22 - 3) * 8 = 152
	events := []absence.Event{
		ev("a", day(2024, time.April, 2), absence.StatusAccepted),
		ev("b", day(2024, time.April, 10), absence.StatusAccepted),
		ev("c", day(2024, time.April, 25), absence.StatusAccepted),
	}

	assert.Equal(t, 152, payroll.ComputeMealVouchers(events, time.April, 2024))
}

func TestComputeMealVouchers_IgnoresOtherStatusesAndMonths(t *testing.T) {
	events := []absence.Event{
		ev("pending", day(2024, time.April, 3), absence.StatusPending),
		ev("declined", day(2024, time.April, 4), absence.StatusDeclined),
		ev("march", day(2024, time.March, 29), absence.StatusAccepted),
		ev("may", day(2024, time.May, 1), absence.StatusAccepted),
		ev("last-year", day(2023, time.April, 5), absence.StatusAccepted),
	}

	assert.Equal(t, 22*8, payroll.ComputeMealVouchers(events, time.April, 2024))
	assert.Equal(t, 22*8, payroll.ComputeMealVouchers(nil, time.April, 2024))
}

func TestComputeMealVouchers_WeekendEventStillDeducts(t *testing.T) {
	// 2024-04-06 is a Saturday
	events := []absence.Event{ev("sat", day(2024, time.April, 6), absence.StatusAccepted)}

	assert.Equal(t, (22-1)*8, payroll.ComputeMealVouchers(events, time.April, 2024))
}

func TestCalculator_Statement(t *testing.T) {
	calc := payroll.NewCalculator(payroll.Policy{VoucherValue: decimal.RequireFromString("9.25")})
	events := []absence.Event{
		ev("a", day(2024, time.February, 12), absence.StatusAccepted),
		ev("b", day(2024, time.February, 13), absence.StatusAccepted),
	}

	st := calc.Statement(events, time.February, 2024)

	assert.Equal(t, 21, st.BusinessDays)
	assert.Equal(t, 2, st.DeductedDays)
	assert.Equal(t, 19, st.EligibleDays)
	assert.Equal(t, []string{"a", "b"}, st.Deducted)
	assert.True(t, st.Total.Equal(decimal.RequireFromString("175.75")), "got %s", st.Total)
	assert.Equal(t, 175, st.Vouchers())
	assert.Equal(t, generic.UnitCurrency, st.Amount().Unit)
}

func TestNewCalculator_ZeroValueFallsBackToDefault(t *testing.T) {
	calc := payroll.NewCalculator(payroll.Policy{})
	assert.True(t, calc.Policy.VoucherValue.Equal(payroll.DefaultVoucherValue))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, payroll.DefaultPolicy().Validate())
	assert.Error(t, payroll.Policy{VoucherValue: decimal.NewFromInt(-1)}.Validate())
	assert.Error(t, payroll.Policy{}.Validate())
}
