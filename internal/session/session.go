// Package session answers market-hours questions for an instrument against a
// monotonic simulation frontier.
package session

import (
	"time"
)

// Calendar is the static schedule of an exchange. All methods are pure.
type Calendar interface {
	DateIsOpen(t time.Time) bool
	IsOpenAt(t time.Time) bool
	IsExtendedOpenAt(t time.Time) bool
	TimeOfDayOpen(t time.Time) time.Time
	TimeOfDayClosed(t time.Time) time.Time
	TradingDaysPerYear() int
}

// Exchange binds a Calendar to a frontier clock.
type Exchange struct {
	calendar Calendar
	clock    Clock
}

// NewExchange returns an exchange reading its frontier from clock. A nil
// clock gets a private VirtualClock starting at the zero time.
func NewExchange(calendar Calendar, clock Clock) *Exchange {
	if calendar == nil {
		calendar = AlwaysOpen{}
	}
	if clock == nil {
		clock = NewVirtualClock(time.Time{})
	}
	return &Exchange{calendar: calendar, clock: clock}
}

// Time returns the frontier.
func (e *Exchange) Time() time.Time { return e.clock.Now() }

// SetFrontier advances the frontier; earlier times are ignored.
func (e *Exchange) SetFrontier(t time.Time) { e.clock.AdvanceTo(t) }

// IsOpen reports whether the regular session is open at the frontier.
func (e *Exchange) IsOpen() bool { return e.calendar.IsOpenAt(e.Time()) }

// IsExtendedOpen reports whether the extended session is open at the frontier.
func (e *Exchange) IsExtendedOpen() bool { return e.calendar.IsExtendedOpenAt(e.Time()) }

// DateTimeIsOpen reports whether the regular session is open at t.
func (e *Exchange) DateTimeIsOpen(t time.Time) bool { return e.calendar.IsOpenAt(t) }

// DateTimeIsExtendedOpen reports whether the extended session is open at t.
func (e *Exchange) DateTimeIsExtendedOpen(t time.Time) bool { return e.calendar.IsExtendedOpenAt(t) }

// DateIsOpen reports whether t falls on a trading day.
func (e *Exchange) DateIsOpen(t time.Time) bool { return e.calendar.DateIsOpen(t) }

func (e *Exchange) TimeOfDayOpen(t time.Time) time.Time { return e.calendar.TimeOfDayOpen(t) }

func (e *Exchange) TimeOfDayClosed(t time.Time) time.Time { return e.calendar.TimeOfDayClosed(t) }

func (e *Exchange) TradingDaysPerYear() int { return e.calendar.TradingDaysPerYear() }

// TimeIsPast reports whether the frontier's time of day is at or after hh:mm:ss.
func (e *Exchange) TimeIsPast(hour, minute, second int) bool {
	now := e.Time()
	h, m, s := now.Clock()
	if h != hour {
		return h > hour
	}
	if m != minute {
		return m > minute
	}
	return s >= second
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AlwaysOpen trades every instant of every day.
type AlwaysOpen struct{}

func (AlwaysOpen) DateIsOpen(time.Time) bool       { return true }
func (AlwaysOpen) IsOpenAt(time.Time) bool         { return true }
func (AlwaysOpen) IsExtendedOpenAt(time.Time) bool { return true }
func (AlwaysOpen) TradingDaysPerYear() int         { return 365 }

func (AlwaysOpen) TimeOfDayOpen(t time.Time) time.Time { return midnight(t) }

func (AlwaysOpen) TimeOfDayClosed(t time.Time) time.Time { return midnight(t).AddDate(0, 0, 1) }
