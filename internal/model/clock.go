// Package model holds the domain types shared across the application:
// clock events, attendance errors and the employee identity carried in
// every record.
package model

import (
	"fmt"
	"time"
)

// ClockDirection tells whether a clock event opens or closes a work
// period.
type ClockDirection int

const (
	DirectionIn ClockDirection = iota
	DirectionOut
)

func (d ClockDirection) String() string {
	switch d {
	case DirectionIn:
		return "clock-in"
	case DirectionOut:
		return "clock-out"
	default:
		return fmt.Sprintf("ClockDirection(%d)", int(d))
	}
}

// TimeOfDay is a wall-clock time within a day, held as minutes since
// midnight. Records carry minute precision only.
type TimeOfDay int

// NewTimeOfDay builds a time of day from an hour and minute.
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time of day %02d:%02d", hour, minute)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// TimeOfDayFrom extracts the wall-clock time from t, truncated to the
// minute.
func TimeOfDayFrom(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// ParseTimeOfDay parses the "HH:MM" form used in record files.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return NewTimeOfDay(hour, minute)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Sub returns the elapsed duration from o to t.
func (t TimeOfDay) Sub(o TimeOfDay) time.Duration {
	return time.Duration(int(t)-int(o)) * time.Minute
}

// ClockEvent is one raw attendance event: a direction at a wall-clock
// time.
type ClockEvent struct {
	At        TimeOfDay
	Direction ClockDirection
}

func (e ClockEvent) String() string {
	return fmt.Sprintf("%s at %s", e.Direction, e.At)
}

// EmployeeInfo identifies the employee a record belongs to.
type EmployeeInfo struct {
	ID        string
	FirstName string
	LastName  string
}

func (e EmployeeInfo) String() string {
	return fmt.Sprintf("%s %s (%s)", e.FirstName, e.LastName, e.ID)
}

// Date is a calendar day. The time-of-day part is ignored everywhere a
// Date is expected; use DateOf to normalize.
type Date = time.Time

// dateLayout is the canonical on-disk date form.
const dateLayout = "2006-01-02"

// NewDate builds a calendar day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// FormatDate renders a date in the canonical YYYY-MM-DD form.
func FormatDate(d Date) string {
	return d.Format(dateLayout)
}

// ParseDate parses the canonical YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}
