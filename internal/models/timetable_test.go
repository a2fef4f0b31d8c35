package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestBreakCoversFixedRange(t *testing.T) {
	b := Break{StartDate: day(2026, time.March, 2), EndDate: day(2026, time.March, 4)}

	require.True(t, b.Covers(day(2026, time.March, 2)))
	require.True(t, b.Covers(day(2026, time.March, 4)))
	require.False(t, b.Covers(day(2026, time.March, 5)))
	require.False(t, b.Covers(day(2027, time.March, 3)))
}

func TestBreakCoversRecurring(t *testing.T) {
	b := Break{IsRecurring: true, StartDate: day(2025, time.August, 15), EndDate: day(2025, time.August, 15)}

	require.True(t, b.Covers(day(2026, time.August, 15)))
	require.True(t, b.Covers(day(2030, time.August, 15)))
	require.False(t, b.Covers(day(2026, time.August, 16)))
}

func TestBreakCoversRecurringYearBoundary(t *testing.T) {
	// Winter recess spanning Dec 28 - Jan 3 must match January dates in any
	// year.
	b := Break{IsRecurring: true, StartDate: day(2025, time.December, 28), EndDate: day(2026, time.January, 3)}

	require.True(t, b.Covers(day(2026, time.December, 30)))
	require.True(t, b.Covers(day(2027, time.January, 2)))
	require.True(t, b.Covers(day(2027, time.January, 3)))
	require.False(t, b.Covers(day(2027, time.January, 4)))
	require.False(t, b.Covers(day(2026, time.December, 27)))
}

func TestTimePeriodRecess(t *testing.T) {
	require.True(t, TimePeriod{IsBreak: true}.Recess())
	require.True(t, TimePeriod{Name: "Lunch Break"}.Recess())
	require.True(t, TimePeriod{Name: "Morning Recess"}.Recess())
	require.False(t, TimePeriod{Name: "Period 1"}.Recess())
}
