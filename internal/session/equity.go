package session

import (
	"time"
	_ "time/tzdata"
)

const (
	equityOpenMinutes     = 9*60 + 30
	equityCloseMinutes    = 16 * 60
	extendedOpenMinutes   = 4 * 60
	extendedCloseMinutes  = 20 * 60
	equityTradingDaysYear = 252
)

// Equity is the US cash equity calendar: 09:30-16:00 New York time on
// weekdays that are not NYSE holidays, with extended hours 04:00-20:00.
type Equity struct {
	Location *time.Location
}

// NewEquity returns the calendar in America/New_York, falling back to UTC
// when the zone database is unavailable.
func NewEquity() Equity {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Equity{Location: loc}
}

func (c Equity) local(t time.Time) time.Time {
	if c.Location == nil {
		return t
	}
	return t.In(c.Location)
}

// DateIsOpen implements Calendar.
func (c Equity) DateIsOpen(t time.Time) bool {
	lt := c.local(t)
	if isWeekend(lt) {
		return false
	}
	return !IsUSHoliday(lt)
}

// IsOpenAt implements Calendar.
func (c Equity) IsOpenAt(t time.Time) bool {
	lt := c.local(t)
	if !c.DateIsOpen(lt) {
		return false
	}
	m := minuteOfDay(lt)
	return m >= equityOpenMinutes && m < equityCloseMinutes
}

// IsExtendedOpenAt implements Calendar.
func (c Equity) IsExtendedOpenAt(t time.Time) bool {
	lt := c.local(t)
	if !c.DateIsOpen(lt) {
		return false
	}
	m := minuteOfDay(lt)
	return m >= extendedOpenMinutes && m < extendedCloseMinutes
}

// TimeOfDayOpen implements Calendar.
func (c Equity) TimeOfDayOpen(t time.Time) time.Time {
	return atMinute(c.local(t), equityOpenMinutes)
}

// TimeOfDayClosed implements Calendar.
func (c Equity) TimeOfDayClosed(t time.Time) time.Time {
	return atMinute(c.local(t), equityCloseMinutes)
}

// TradingDaysPerYear implements Calendar.
func (Equity) TradingDaysPerYear() int { return equityTradingDaysYear }

// Forex trades continuously from Sunday 17:00 to Friday 17:00 New York time.
type Forex struct {
	Location *time.Location
}

// NewForex returns the calendar in America/New_York.
func NewForex() Forex {
	return Forex{Location: NewEquity().Location}
}

func (c Forex) local(t time.Time) time.Time {
	if c.Location == nil {
		return t
	}
	return t.In(c.Location)
}

// DateIsOpen implements Calendar.
func (c Forex) DateIsOpen(t time.Time) bool {
	return c.local(t).Weekday() != time.Saturday
}

// IsOpenAt implements Calendar.
func (c Forex) IsOpenAt(t time.Time) bool {
	lt := c.local(t)
	m := minuteOfDay(lt)
	switch lt.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return m >= 17*60
	case time.Friday:
		return m < 17*60
	default:
		return true
	}
}

// IsExtendedOpenAt implements Calendar.
func (c Forex) IsExtendedOpenAt(t time.Time) bool { return c.IsOpenAt(t) }

// TimeOfDayOpen implements Calendar.
func (c Forex) TimeOfDayOpen(t time.Time) time.Time { return midnight(c.local(t)) }

// TimeOfDayClosed implements Calendar.
func (c Forex) TimeOfDayClosed(t time.Time) time.Time {
	return midnight(c.local(t)).AddDate(0, 0, 1)
}

// TradingDaysPerYear implements Calendar.
func (Forex) TradingDaysPerYear() int { return 260 }

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func atMinute(t time.Time, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, t.Location())
}

func minuteOfDay(t time.Time) int {
	h, m, _ := t.Clock()
	return h*60 + m
}
