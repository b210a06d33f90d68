package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/service"
)

// ClockReport is the outcome of a clock action: the event that was
// registered plus the figures a kiosk shows right after.
type ClockReport struct {
	Employee          model.EmployeeInfo
	Date              model.Date
	Event             model.ClockEvent
	Status            model.ErrorStatus
	Worst             model.AttendanceError
	DayWorked         time.Duration
	DayBalance        time.Duration
	YearBalance       time.Duration
	RemainingVacation float64
}

// ConsultReport is a read-only snapshot of an employee's attendance
// figures.
type ConsultReport struct {
	Employee          model.EmployeeInfo
	ClockedIn         bool
	Status            model.ErrorStatus
	DayWorked         time.Duration
	DayBalance        time.Duration
	YearBalance       time.Duration
	YearVacation      float64
	RemainingVacation float64
}

// AttendanceEntry is one employee's presence in an attendance list.
// Err is set when the employee's record could not be read; the rest of
// the list is still valid.
type AttendanceEntry struct {
	EmployeeID string
	ClockedIn  bool
	Err        error
}

// AttendanceList is a site-wide presence snapshot.
type AttendanceList struct {
	At      time.Time
	Entries []AttendanceEntry
}

// StartClockAction registers an automatically-toggled clock event for
// the employee, saves the record, validates it and reports the
// post-clock figures. The direction is derived from the current state:
// clocked-in employees clock out, everyone else clocks in.
func (s *Scheduler) StartClockAction(employeeID string) TaskID {
	at := s.Now()
	return s.start(func(ctx context.Context) (any, error) {
		var report ClockReport
		err := s.pool.With(ctx, employeeID, at.Year(), func(t service.TrackerAnalyzer) error {
			r, err := s.clock(ctx, t, at)
			if err != nil {
				return err
			}
			report = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		return report, nil
	})
}

func (s *Scheduler) clock(ctx context.Context, t service.TrackerAnalyzer, at time.Time) (ClockReport, error) {
	var report ClockReport
	date := model.DateOf(at)

	clockedIn, err := t.IsClockedIn(date)
	if err != nil {
		return report, err
	}
	direction := model.DirectionIn
	if clockedIn {
		direction = model.DirectionOut
	}
	event := model.ClockEvent{At: model.TimeOfDayFrom(at), Direction: direction}

	if err := t.RegisterClock(date, event); err != nil {
		return report, fmt.Errorf("failed to register clock: %w", err)
	}
	if err := t.Save(ctx); err != nil {
		return report, fmt.Errorf("failed to save record: %w", err)
	}
	slog.Info("Clock event registered",
		"employee", t.Employee().ID, "date", model.FormatDate(date), "event", event.String())

	outcome, err := s.validator.Validate(ctx, t, at)
	if err != nil {
		return report, fmt.Errorf("validation failed: %w", err)
	}

	// Validation may have written new day errors; refresh the
	// evaluated view before reading the figures.
	if err := t.Analyze(ctx, at); err != nil {
		return report, err
	}

	report = ClockReport{
		Employee: t.Employee(),
		Date:     date,
		Event:    event,
		Status:   outcome.Status,
		Worst:    outcome.Worst,
	}
	if report.DayWorked, err = t.ReadDayWorked(date); err != nil {
		return report, err
	}
	if report.DayBalance, err = t.ReadDayBalance(date); err != nil {
		return report, err
	}
	if report.YearBalance, err = t.ReadYearToYesterdayBalance(); err != nil {
		return report, err
	}
	if report.RemainingVacation, err = t.ReadRemainingVacation(); err != nil {
		return report, err
	}
	return report, nil
}

// StartConsultation opens the employee's record read-only and reports
// the current attendance figures without mutating anything.
func (s *Scheduler) StartConsultation(employeeID string) TaskID {
	at := s.Now()
	return s.start(func(ctx context.Context) (any, error) {
		t, err := s.factory.CreateReadOnly(ctx, employeeID, at.Year())
		if err != nil {
			return nil, err
		}
		defer func() {
			if closeErr := t.Close(ctx); closeErr != nil {
				slog.Warn("Failed to close consulted record",
					"employee", employeeID, "error", closeErr)
			}
		}()
		return s.consult(ctx, t, at)
	})
}

func (s *Scheduler) consult(ctx context.Context, t service.TrackerAnalyzer, at time.Time) (ConsultReport, error) {
	var report ConsultReport
	date := model.DateOf(at)

	if err := t.Analyze(ctx, at); err != nil {
		return report, err
	}

	report.Employee = t.Employee()
	var err error
	if report.ClockedIn, err = t.IsClockedIn(date); err != nil {
		return report, err
	}
	yearError, err := t.ReadYearError()
	if err != nil {
		return report, err
	}
	report.Status = model.StatusFromID(yearError)
	if report.DayWorked, err = t.ReadDayWorked(date); err != nil {
		return report, err
	}
	if report.DayBalance, err = t.ReadDayBalance(date); err != nil {
		return report, err
	}
	if report.YearBalance, err = t.ReadYearToYesterdayBalance(); err != nil {
		return report, err
	}
	if report.YearVacation, err = t.ReadYearVacation(); err != nil {
		return report, err
	}
	if report.RemainingVacation, err = t.ReadRemainingVacation(); err != nil {
		return report, err
	}
	return report, nil
}

// attendanceFanOut bounds the concurrent read-only acquisitions of the
// attendance list.
const attendanceFanOut = 8

// StartAttendanceList snapshots who is currently clocked in across all
// employees, using read-only copies so nobody's lock is taken.
func (s *Scheduler) StartAttendanceList() TaskID {
	at := s.Now()
	return s.start(func(ctx context.Context) (any, error) {
		ids, err := s.factory.ListEmployeeIDs(ctx)
		if err != nil {
			return nil, err
		}

		// A single unreadable record must not sink the whole list, so
		// per-employee failures land in their entry instead of aborting.
		entries := make([]AttendanceEntry, len(ids))
		var g errgroup.Group
		g.SetLimit(attendanceFanOut)
		for i, id := range ids {
			i, id := i, id
			g.Go(func() error {
				clockedIn, err := s.isClockedIn(ctx, id, at)
				if err != nil {
					slog.Warn("Failed to read attendance", "employee", id, "error", err)
					entries[i] = AttendanceEntry{EmployeeID: id, Err: err}
					return nil
				}
				entries[i] = AttendanceEntry{EmployeeID: id, ClockedIn: clockedIn}
				return nil
			})
		}
		_ = g.Wait()

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].EmployeeID < entries[j].EmployeeID
		})
		return AttendanceList{At: at, Entries: entries}, nil
	})
}

func (s *Scheduler) isClockedIn(ctx context.Context, employeeID string, at time.Time) (bool, error) {
	t, err := s.factory.CreateReadOnly(ctx, employeeID, at.Year())
	if err != nil {
		return false, err
	}
	defer func() {
		if closeErr := t.Close(ctx); closeErr != nil {
			slog.Warn("Failed to close read-only record",
				"employee", employeeID, "error", closeErr)
		}
	}()
	return t.IsClockedIn(model.DateOf(at))
}
