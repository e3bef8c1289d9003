package session

import "time"

// IsUSHoliday reports whether the calendar date of t is a full-day NYSE closure.
func IsUSHoliday(t time.Time) bool {
	y, m, d := t.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, h := range usHolidays(y) {
		if h.Equal(date) {
			return true
		}
	}
	return false
}

func usHolidays(year int) []time.Time {
	days := []time.Time{
		observed(fixed(year, time.January, 1), false),
		nthWeekday(year, time.January, time.Monday, 3),
		nthWeekday(year, time.February, time.Monday, 3),
		easter(year).AddDate(0, 0, -2),
		lastWeekday(year, time.May, time.Monday),
		observed(fixed(year, time.July, 4), true),
		nthWeekday(year, time.September, time.Monday, 1),
		nthWeekday(year, time.November, time.Thursday, 4),
		observed(fixed(year, time.December, 25), true),
	}
	if year >= 2022 {
		days = append(days, observed(fixed(year, time.June, 19), true))
	}
	return days
}

func fixed(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// observed shifts Sunday holidays to Monday and, when allowSaturday is set,
// Saturday holidays to Friday.
func observed(t time.Time, allowSaturday bool) time.Time {
	switch t.Weekday() {
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	case time.Saturday:
		if allowSaturday {
			return t.AddDate(0, 0, -1)
		}
	}
	return t
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	t := fixed(year, month, 1)
	offset := (int(wd) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	t := fixed(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(t.Weekday()) - int(wd) + 7) % 7
	return t.AddDate(0, 0, -offset)
}

// easter returns Easter Sunday using the anonymous Gregorian algorithm.
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return fixed(year, time.Month(month), day)
}
