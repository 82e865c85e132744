package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/generic"
)

func TestRangesOverlap(t *testing.T) {
	jan1, jan10, jan11, jan20 := day(2024, time.January, 1), day(2024, time.January, 10), day(2024, time.January, 11), day(2024, time.January, 20)

	tests := []struct {
		name         string
		startA, endA generic.TimePoint
		startB, endB generic.TimePoint
		want         bool
	}{
		{"disjoint adjacent days", jan1, jan10, jan11, jan20, false},
		{"touching on one day", jan1, jan10, jan10, jan20, true},
		{"contained", jan1, jan20, jan10, jan11, true},
		{"identical", jan1, jan10, jan1, jan10, true},
		{"single day inside", jan10, jan10, jan1, jan20, true},
		{"single day outside", jan11, jan11, jan1, jan10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generic.RangesOverlap(tt.startA, tt.endA, tt.startB, tt.endB)
			assert.Equal(t, tt.want, got)

			// Symmetry
			assert.Equal(t, got, generic.RangesOverlap(tt.startB, tt.endB, tt.startA, tt.endA))
		})
	}
}

func TestRangesOverlap_ReflexiveOverManyRanges(t *testing.T) {
	start := day(2024, time.January, 1)
	for offset := 0; offset < 60; offset += 7 {
		for length := 0; length < 10; length++ {
			s := start.AddDays(offset)
			e := s.AddDays(length)
			assert.True(t, generic.RangesOverlap(s, e, s, e), "range %s..%s must overlap itself", s, e)
		}
	}
}

func TestPeriod_Contains_InclusiveBounds(t *testing.T) {
	p := generic.Period{Start: day(2024, time.January, 1), End: day(2024, time.January, 31)}

	assert.True(t, p.Contains(day(2024, time.January, 1)))
	assert.True(t, p.Contains(day(2024, time.January, 31)))
	assert.False(t, p.Contains(day(2023, time.December, 31)))
	assert.False(t, p.Contains(day(2024, time.February, 1)))
}

func TestNewPeriod_RejectsEndBeforeStart(t *testing.T) {
	_, err := generic.NewPeriod(day(2024, time.January, 10), day(2024, time.January, 9))
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrInvalidPeriod))

	p, err := generic.NewPeriod(day(2024, time.January, 10), day(2024, time.January, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
}

func TestPeriod_Days(t *testing.T) {
	p := generic.MonthPeriod(time.February, 2024)
	days := p.Days()

	require.Len(t, days, 29)
	assert.Equal(t, "2024-02-01", days[0].String())
	assert.Equal(t, "2024-02-29", days[28].String())
}
