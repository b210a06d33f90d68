package tracker

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/timebridge/timebridge/internal/common"
	"github.com/timebridge/timebridge/internal/model"
)

// Evaluated-view reads. Every method here serves values computed by
// the external engine and fails with ErrNotEvaluated while the raw
// view is ahead of the last evaluation.

func (t *SQLiteTracker) checkReadable() error {
	if t.closed {
		return common.ErrTrackerClosed
	}
	if !t.readable {
		return fmt.Errorf("%w: evaluate the record first", common.ErrNotEvaluated)
	}
	return nil
}

// evalDay returns the engine row for a date. Days the engine did not
// emit (no schedule, no events) read as all zeroes.
func (t *SQLiteTracker) evalDay(date model.Date) (scheduleMin, workedMin, balanceMin, errorID int, err error) {
	if err = t.checkReadable(); err != nil {
		return
	}
	if err = t.checkDate(date); err != nil {
		return
	}

	row := t.db.QueryRow(
		`SELECT schedule_min, worked_min, balance_min, error_id FROM eval_days WHERE date = ?`,
		model.FormatDate(date))
	err = row.Scan(&scheduleMin, &workedMin, &balanceMin, &errorID)
	if err == sql.ErrNoRows {
		err = nil
		return
	}
	if err != nil {
		err = fmt.Errorf("failed to read evaluated day: %w", err)
	}
	return
}

func (t *SQLiteTracker) evalMonth(month time.Month) (scheduleMin, workedMin, balanceMin int, vacation float64, err error) {
	if err = t.checkReadable(); err != nil {
		return
	}
	if month < time.January || month > time.December {
		err = fmt.Errorf("invalid month %d", month)
		return
	}

	row := t.db.QueryRow(
		`SELECT schedule_min, worked_min, balance_min, vacation FROM eval_months WHERE month = ?`,
		int(month))
	err = row.Scan(&scheduleMin, &workedMin, &balanceMin, &vacation)
	if err == sql.ErrNoRows {
		err = nil
		return
	}
	if err != nil {
		err = fmt.Errorf("failed to read evaluated month: %w", err)
	}
	return
}

func (t *SQLiteTracker) evalMetaFloat(key string) (float64, error) {
	if err := t.checkReadable(); err != nil {
		return 0, err
	}
	s, err := getMeta(t.db, "eval_meta", key)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid evaluated value %q for %q: %w", s, key, err)
	}
	return v, nil
}

// ReadDaySchedule returns the scheduled working time for a date.
func (t *SQLiteTracker) ReadDaySchedule(date model.Date) (time.Duration, error) {
	sched, _, _, _, err := t.evalDay(date)
	return time.Duration(sched) * time.Minute, err
}

// ReadDayWorked returns the time worked on a date.
func (t *SQLiteTracker) ReadDayWorked(date model.Date) (time.Duration, error) {
	_, worked, _, _, err := t.evalDay(date)
	return time.Duration(worked) * time.Minute, err
}

// ReadDayBalance returns worked minus scheduled time for a date, zero
// for days after the reference datetime.
func (t *SQLiteTracker) ReadDayBalance(date model.Date) (time.Duration, error) {
	_, _, balance, _, err := t.evalDay(date)
	return time.Duration(balance) * time.Minute, err
}

// ReadDayVacation returns the vacation ratio the engine accounted for
// a date.
func (t *SQLiteTracker) ReadDayVacation(date model.Date) (float64, error) {
	if err := t.checkReadable(); err != nil {
		return 0, err
	}
	return t.Vacation(date)
}

// ReadDayError returns the engine-computed attendance error for a
// date, 0 meaning none. Part of the analyzer capability.
func (t *SQLiteTracker) ReadDayError(date model.Date) (int, error) {
	_, _, _, errorID, err := t.evalDay(date)
	return errorID, err
}

// ReadYearError returns the engine-computed worst error over the whole
// tracked year. Part of the analyzer capability.
func (t *SQLiteTracker) ReadYearError() (int, error) {
	if err := t.checkReadable(); err != nil {
		return 0, err
	}
	s, err := getMeta(t.db, "eval_meta", evalYearError)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	errorID, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid evaluated year error %q: %w", s, err)
	}
	return errorID, nil
}

// ReadMonthSchedule returns the scheduled working time for a month.
func (t *SQLiteTracker) ReadMonthSchedule(month time.Month) (time.Duration, error) {
	sched, _, _, _, err := t.evalMonth(month)
	return time.Duration(sched) * time.Minute, err
}

// ReadMonthWorked returns the worked time summed over a month.
func (t *SQLiteTracker) ReadMonthWorked(month time.Month) (time.Duration, error) {
	_, worked, _, _, err := t.evalMonth(month)
	return time.Duration(worked) * time.Minute, err
}

// ReadMonthBalance returns the balance summed over a month; months
// after the reference datetime read as zero.
func (t *SQLiteTracker) ReadMonthBalance(month time.Month) (time.Duration, error) {
	_, _, balance, _, err := t.evalMonth(month)
	return time.Duration(balance) * time.Minute, err
}

// ReadMonthVacation returns the vacation days planned in a month.
func (t *SQLiteTracker) ReadMonthVacation(month time.Month) (float64, error) {
	_, _, _, vacation, err := t.evalMonth(month)
	return vacation, err
}

// ReadYearToDateBalance returns the balance accumulated up to and
// including the reference date, plus the opening balance.
func (t *SQLiteTracker) ReadYearToDateBalance() (time.Duration, error) {
	minutes, err := t.evalMetaFloat(evalYTDBalance)
	return time.Duration(minutes) * time.Minute, err
}

// ReadYearToYesterdayBalance returns the year-to-date balance without
// the reference day's contribution, which is usually still in
// progress.
func (t *SQLiteTracker) ReadYearToYesterdayBalance() (time.Duration, error) {
	ytd, err := t.ReadYearToDateBalance()
	if err != nil {
		return 0, err
	}
	day, err := t.ReadDayBalance(model.DateOf(t.asOf))
	if err != nil {
		return 0, err
	}
	return ytd - day, nil
}

// ReadYearVacation returns the vacation days planned over the whole
// year, regardless of the reference datetime.
func (t *SQLiteTracker) ReadYearVacation() (float64, error) {
	return t.evalMetaFloat(evalYearVacation)
}

// ReadRemainingVacation returns the vacation days not yet planned this
// year.
func (t *SQLiteTracker) ReadRemainingVacation() (float64, error) {
	return t.evalMetaFloat(evalRemainingVacation)
}
