// Package service defines the interfaces between the application's
// components. Implementations live in their own packages; consumers
// depend only on these contracts.
package service

import (
	"context"
	"time"

	"github.com/timebridge/timebridge/internal/model"
)

// Tracker manages one employee's attendance record for one calendar
// year. It exposes two views of the underlying record file:
//
//   - the raw view: always accessible, fully editable (clock events,
//     vacations, per-day attendance errors, the validation anchor);
//   - the evaluated view: the Read* methods, served from derived
//     values computed by the external evaluation engine. They fail
//     with ErrNotEvaluated until Evaluate succeeds, and any raw
//     mutation makes them fail again until the next evaluation.
//
// The reference datetime (AsOf) is the point in time derived values
// are computed against: events after it are excluded from balances.
// Changing it invalidates the evaluated view.
//
// A Tracker is stateful and not safe for concurrent use; the pool
// guarantees single-checkout per employee.
type Tracker interface {
	// Identity and opening values (raw view, always available).
	Employee() model.EmployeeInfo
	Year() int
	DaySchedule() time.Duration
	OpeningBalance() time.Duration
	OpeningVacationDays() float64
	MaxClocksPerDay() int

	// Reference datetime for evaluation.
	AsOf() time.Time
	SetAsOf(t time.Time)

	// Raw clock data. Clocks returns the day's slot sequence in the
	// in/out/in/out pattern, with nil holes where an event is missing.
	Clocks(date model.Date) ([]*model.ClockEvent, error)
	RegisterClock(date model.Date, event model.ClockEvent) error
	WriteClocks(date model.Date, events []*model.ClockEvent) error
	IsClockedIn(date model.Date) (bool, error)

	// Raw vacation plan.
	Vacation(date model.Date) (float64, error)
	SetVacation(date model.Date, ratio float64) error

	// Raw per-day attendance errors, 0 meaning none.
	DayError(date model.Date) (int, error)
	SetDayError(date model.Date, errorID int) error

	// Validation anchor: all days before it are finally classified.
	Anchor() (model.Date, error)
	SetAnchor(date model.Date) error

	// Evaluated view.
	Readable() bool
	Evaluate(ctx context.Context) error
	ReadDaySchedule(date model.Date) (time.Duration, error)
	ReadDayWorked(date model.Date) (time.Duration, error)
	ReadDayBalance(date model.Date) (time.Duration, error)
	ReadDayVacation(date model.Date) (float64, error)
	ReadMonthSchedule(month time.Month) (time.Duration, error)
	ReadMonthWorked(month time.Month) (time.Duration, error)
	ReadMonthBalance(month time.Month) (time.Duration, error)
	ReadMonthVacation(month time.Month) (float64, error)
	ReadYearToDateBalance() (time.Duration, error)
	ReadYearToYesterdayBalance() (time.Duration, error)
	ReadYearVacation() (float64, error)
	ReadRemainingVacation() (float64, error)

	// Lifecycle. Save persists the raw view back to the repository;
	// it never triggers an evaluation. Close releases the repository
	// lock and must be called on every exit path; it is safe to call
	// on an already-closed tracker.
	Save(ctx context.Context) error
	Close(ctx context.Context) error
}

// TrackerAnalyzer is the optional richer-analysis capability: the
// record's own engine-computed error cells. The validator checks for
// this capability once at entry and merges its findings with the
// locally stored errors.
type TrackerAnalyzer interface {
	Tracker

	// Analyze evaluates the record at the given reference datetime so
	// the per-day and year-level error reads below become available.
	Analyze(ctx context.Context, until time.Time) error
	// ReadDayError returns the engine-computed error for a day, 0
	// meaning none.
	ReadDayError(date model.Date) (int, error)
	// ReadYearError returns the engine-computed worst error over the
	// whole tracked year.
	ReadYearError() (int, error)
}

// Checker is a pluggable validation rule. Implementations report
// whether their error condition holds on a given day.
type Checker interface {
	ErrorID() int
	CheckDate(t Tracker, date model.Date) (bool, error)
}

// TrackerFactory creates trackers on top of acquired repository
// records.
type TrackerFactory interface {
	// Create acquires the employee's record with an exclusive lock and
	// opens a read/write tracker for the given year.
	Create(ctx context.Context, employeeID string, year int) (TrackerAnalyzer, error)
	// CreateReadOnly opens a tracker without taking the remote lock.
	// The tracker rejects mutations and saves.
	CreateReadOnly(ctx context.Context, employeeID string, year int) (TrackerAnalyzer, error)
	// ListEmployeeIDs enumerates the employees registered in the
	// repository.
	ListEmployeeIDs(ctx context.Context) ([]string, error)
}

// Evaluator runs the external evaluation engine over a local record
// file, populating its derived tables in place.
type Evaluator interface {
	Evaluate(ctx context.Context, path string) error
}
