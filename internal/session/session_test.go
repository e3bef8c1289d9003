package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ny(t *testing.T, layout string) time.Time {
	t.Helper()
	cal := NewEquity()
	ts, err := time.ParseInLocation("2006-01-02 15:04", layout, cal.Location)
	require.NoError(t, err)
	return ts
}

func TestEquityRegularHours(t *testing.T) {
	ex := NewExchange(NewEquity(), nil)

	require.False(t, ex.DateTimeIsOpen(ny(t, "2024-03-05 09:29")))
	require.True(t, ex.DateTimeIsOpen(ny(t, "2024-03-05 09:30")))
	require.True(t, ex.DateTimeIsOpen(ny(t, "2024-03-05 15:59")))
	require.False(t, ex.DateTimeIsOpen(ny(t, "2024-03-05 16:00")))
	require.False(t, ex.DateTimeIsOpen(ny(t, "2024-03-09 12:00")), "saturday")
	require.Equal(t, 252, ex.TradingDaysPerYear())
}

func TestEquityExtendedHours(t *testing.T) {
	ex := NewExchange(NewEquity(), nil)

	require.False(t, ex.DateTimeIsExtendedOpen(ny(t, "2024-03-05 03:59")))
	require.True(t, ex.DateTimeIsExtendedOpen(ny(t, "2024-03-05 04:00")))
	require.True(t, ex.DateTimeIsExtendedOpen(ny(t, "2024-03-05 19:59")))
	require.False(t, ex.DateTimeIsExtendedOpen(ny(t, "2024-03-05 20:00")))
}

func TestEquityHolidays(t *testing.T) {
	ex := NewExchange(NewEquity(), nil)

	for _, day := range []string{
		"2024-01-01", // new year
		"2024-01-15", // mlk
		"2024-02-19", // presidents
		"2024-03-29", // good friday
		"2024-05-27", // memorial
		"2024-06-19", // juneteenth
		"2024-07-04",
		"2024-09-02", // labor
		"2024-11-28", // thanksgiving
		"2024-12-25",
		"2021-12-24", // christmas observed
		"2023-01-02", // new year observed
	} {
		require.Falsef(t, ex.DateIsOpen(ny(t, day+" 12:00")), "%s should be closed", day)
	}
	require.True(t, ex.DateIsOpen(ny(t, "2021-06-18 12:00")), "juneteenth predates the closure")
	require.True(t, ex.DateIsOpen(ny(t, "2021-12-31 12:00")), "saturday new year is not observed")
}

func TestFrontierOnlyMovesForward(t *testing.T) {
	ex := NewExchange(NewEquity(), nil)
	later := ny(t, "2024-03-05 10:00")
	ex.SetFrontier(later)
	ex.SetFrontier(ny(t, "2024-03-05 08:00"))

	require.True(t, ex.Time().Equal(later))
	require.True(t, ex.IsOpen())
	require.True(t, ex.TimeIsPast(10, 0, 0))
	require.False(t, ex.TimeIsPast(10, 1, 0))
	require.True(t, ex.TimeOfDayOpen(later).Equal(ny(t, "2024-03-05 09:30")))
	require.True(t, ex.TimeOfDayClosed(later).Equal(ny(t, "2024-03-05 16:00")))
}

func TestVirtualClockReportsMoves(t *testing.T) {
	start := ny(t, "2024-03-05 09:00")
	clock := NewVirtualClock(start)

	require.False(t, clock.AdvanceTo(start))
	require.False(t, clock.AdvanceTo(start.Add(-time.Minute)))
	require.True(t, clock.AdvanceTo(start.Add(time.Minute)))
	require.True(t, clock.Now().Equal(start.Add(time.Minute)))
}

func TestAlwaysOpen(t *testing.T) {
	ex := NewExchange(nil, nil)
	sat := time.Date(2024, 3, 9, 3, 0, 0, 0, time.UTC)

	require.True(t, ex.DateTimeIsOpen(sat))
	require.True(t, ex.DateTimeIsExtendedOpen(sat))
	require.Equal(t, 365, ex.TradingDaysPerYear())
	require.Equal(t, 24*time.Hour, ex.TimeOfDayClosed(sat).Sub(ex.TimeOfDayOpen(sat)))
}

func TestForexWeek(t *testing.T) {
	cal := NewForex()
	require.False(t, cal.IsOpenAt(ny(t, "2024-03-09 12:00")))
	require.False(t, cal.IsOpenAt(ny(t, "2024-03-10 16:59")))
	require.True(t, cal.IsOpenAt(ny(t, "2024-03-10 17:00")))
	require.True(t, cal.IsOpenAt(ny(t, "2024-03-13 02:00")))
	require.False(t, cal.IsOpenAt(ny(t, "2024-03-15 17:00")))
}
