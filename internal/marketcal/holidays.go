package marketcal

import "time"

// nyseHolidays holds every full-day NYSE closure for MinYear..MaxYear,
// keyed by UTC midnight. Regular holidays are generated from the
// exchange's published rules; one-off closures are listed explicitly.
var nyseHolidays = buildNYSEHolidays()

// specialClosures are unscheduled full-day closures.
var specialClosures = []string{
	"2001-09-11", // September 11 attacks
	"2001-09-12",
	"2001-09-13",
	"2001-09-14",
	"2004-06-11", // mourning, President Reagan
	"2007-01-02", // mourning, President Ford
	"2012-10-29", // Hurricane Sandy
	"2012-10-30",
	"2018-12-05", // mourning, President G.H.W. Bush
	"2025-01-09", // mourning, President Carter
}

func buildNYSEHolidays() map[time.Time]struct{} {
	h := make(map[time.Time]struct{}, (MaxYear-MinYear+1)*10)
	add := func(t time.Time) {
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			h[t] = struct{}{}
		}
	}

	for year := MinYear; year <= MaxYear; year++ {
		// New Year's Day: January 1, observed Monday when it falls on
		// Sunday. A Saturday January 1 is not observed.
		add(observedSundayForward(date(year, time.January, 1)))

		// Martin Luther King Jr. Day: third Monday of January.
		add(nthWeekday(year, time.January, time.Monday, 3))

		// Washington's Birthday: third Monday of February.
		add(nthWeekday(year, time.February, time.Monday, 3))

		// Good Friday: two days before Easter Sunday.
		add(easter(year).AddDate(0, 0, -2))

		// Memorial Day: last Monday of May.
		add(lastWeekday(year, time.May, time.Monday))

		// Juneteenth: June 19, observed since 2022.
		if year >= 2022 {
			add(observedBothWays(date(year, time.June, 19)))
		}

		// Independence Day: July 4.
		add(observedBothWays(date(year, time.July, 4)))

		// Labor Day: first Monday of September.
		add(nthWeekday(year, time.September, time.Monday, 1))

		// Thanksgiving: fourth Thursday of November.
		add(nthWeekday(year, time.November, time.Thursday, 4))

		// Christmas: December 25.
		add(observedBothWays(date(year, time.December, 25)))
	}

	for _, s := range specialClosures {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			panic("marketcal: bad special closure " + s)
		}
		h[t] = struct{}{}
	}

	return h
}

func date(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// observedSundayForward shifts a Sunday holiday to Monday and leaves a
// Saturday holiday unobserved.
func observedSundayForward(t time.Time) time.Time {
	if t.Weekday() == time.Sunday {
		return t.AddDate(0, 0, 1)
	}
	return t
}

// observedBothWays shifts Saturday back to Friday and Sunday forward
// to Monday.
func observedBothWays(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

// nthWeekday returns the nth given weekday of a month.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	t := date(year, month, 1)
	offset := (int(wd) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the last given weekday of a month.
func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	t := date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(t.Weekday()) - int(wd) + 7) % 7
	return t.AddDate(0, 0, -offset)
}

// easter computes Easter Sunday for a Gregorian year using the
// anonymous computus.
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
	return date(year, time.Month(month), day)
}
