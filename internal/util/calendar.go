package util

import (
	"fmt"
	"time"
)

// TradingCalendar approximates the US equity trading calendar in a fixed
// location. Holidays are not modelled: a weekday market holiday is treated
// as a trading day.
type TradingCalendar struct {
	loc *time.Location
	now func() time.Time
}

// NewTradingCalendar creates a TradingCalendar for the named IANA timezone.
// An empty name means UTC.
func NewTradingCalendar(timezone string) (*TradingCalendar, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
		}
		loc = l
	}
	return &TradingCalendar{loc: loc, now: time.Now}, nil
}

// SetClock replaces the wall clock. Used by tests.
func (tc *TradingCalendar) SetClock(now func() time.Time) {
	tc.now = now
}

// Location returns the calendar's timezone.
func (tc *TradingCalendar) Location() *time.Location {
	return tc.loc
}

// Now returns the current time in the calendar's timezone.
func (tc *TradingCalendar) Now() time.Time {
	return tc.now().In(tc.loc)
}

// LastExpectedTradingDay returns the most recent trading day for which data
// should exist as of the calendar's current time.
func (tc *TradingCalendar) LastExpectedTradingDay() time.Time {
	return LastExpectedTradingDay(tc.Now())
}

// LastExpectedTradingDay returns the most recent weekday before now, at
// midnight in now's location: Sunday steps back 2 days, Monday 3 days, any
// other day 1 day.
func LastExpectedTradingDay(now time.Time) time.Time {
	diff := 1
	switch now.Weekday() {
	case time.Sunday:
		diff = 2
	case time.Monday:
		diff = 3
	}
	d := now.AddDate(0, 0, -diff)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
}
