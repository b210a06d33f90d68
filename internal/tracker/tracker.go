// Package tracker implements the record handle: a stateful,
// per-employee-per-year view over a repository-acquired local record
// file. The raw view (clock events, vacations, day errors, anchor) is
// always editable; the evaluated view (balances, schedules, engine
// error cells) is served from tables populated by the external
// evaluation engine and is invalidated the instant the raw view
// changes.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // record file driver

	"github.com/timebridge/timebridge/internal/common"
	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/service"
)

// Store is the subset of the repository a tracker needs to persist and
// release its local record copy.
type Store interface {
	Save(ctx context.Context, localFile string) error
	Release(ctx context.Context, localFile string) error
	ReleaseReadOnly(ctx context.Context, localFile string) error
}

// Options configure an opened tracker.
type Options struct {
	// AsOf is the reference datetime derived values are computed
	// against. Defaults to the current time.
	AsOf time.Time
	// ReadOnly marks a tracker acquired without the remote lock; all
	// mutations and saves are rejected.
	ReadOnly bool
}

// SQLiteTracker is the record handle implementation over a SQLite
// record file. It implements service.TrackerAnalyzer. Not safe for
// concurrent use.
type SQLiteTracker struct {
	db        *sql.DB
	store     Store
	evaluator service.Evaluator
	localPath string

	info            model.EmployeeInfo
	year            int
	daySchedule     time.Duration
	openingBalance  time.Duration
	openingVacation float64
	maxClocks       int
	rawRevision     int64

	asOf     time.Time
	readable bool
	readonly bool
	closed   bool
}

var _ service.TrackerAnalyzer = (*SQLiteTracker)(nil)

// Open loads a locally cached record file into a tracker. The caller
// keeps ownership of the repository acquisition until Close.
func Open(localPath string, store Store, evaluator service.Evaluator, opts Options) (*SQLiteTracker, error) {
	if opts.AsOf.IsZero() {
		opts.AsOf = time.Now()
	}

	db, err := openDB(localPath)
	if err != nil {
		return nil, err
	}

	t := &SQLiteTracker{
		db:        db,
		store:     store,
		evaluator: evaluator,
		localPath: localPath,
		asOf:      opts.AsOf,
		readonly:  opts.ReadOnly,
	}
	if err := t.loadMeta(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

// loadMeta caches the record's identity rows and decides whether the
// evaluated view is current.
func (t *SQLiteTracker) loadMeta() error {
	read := func(key string) (string, error) { return getMeta(t.db, "meta", key) }

	id, err := read(metaEmployeeID)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%q is not a record file: missing employee id", t.localPath)
	}
	first, err := read(metaFirstName)
	if err != nil {
		return err
	}
	last, err := read(metaLastName)
	if err != nil {
		return err
	}
	t.info = model.EmployeeInfo{ID: id, FirstName: first, LastName: last}

	yearStr, err := read(metaYear)
	if err != nil {
		return err
	}
	if t.year, err = strconv.Atoi(yearStr); err != nil {
		return fmt.Errorf("invalid record year %q: %w", yearStr, err)
	}

	schedMin, err := t.metaInt(metaDaySchedule)
	if err != nil {
		return err
	}
	t.daySchedule = time.Duration(schedMin) * time.Minute

	balanceMin, err := t.metaInt(metaOpeningBalance)
	if err != nil {
		return err
	}
	t.openingBalance = time.Duration(balanceMin) * time.Minute

	vacStr, err := read(metaOpeningVacation)
	if err != nil {
		return err
	}
	if vacStr != "" {
		if t.openingVacation, err = strconv.ParseFloat(vacStr, 64); err != nil {
			return fmt.Errorf("invalid opening vacation %q: %w", vacStr, err)
		}
	}

	if t.maxClocks, err = t.metaInt(metaMaxClocks); err != nil {
		return err
	}
	if t.maxClocks <= 0 {
		t.maxClocks = 8
	}

	if t.rawRevision, err = t.metaInt64(metaRawRevision); err != nil {
		return err
	}

	t.readable = t.evalCurrent()
	return nil
}

// evalCurrent reports whether the engine-written tables match the raw
// view's revision and reference datetime.
func (t *SQLiteTracker) evalCurrent() bool {
	revStr, err := getMeta(t.db, "eval_meta", evalRawRevision)
	if err != nil || revStr == "" {
		return false
	}
	rev, err := strconv.ParseInt(revStr, 10, 64)
	if err != nil || rev != t.rawRevision {
		return false
	}
	asOfStr, err := getMeta(t.db, "eval_meta", evalAsOf)
	if err != nil || asOfStr == "" {
		return false
	}
	asOf, err := time.Parse(time.RFC3339, asOfStr)
	if err != nil {
		return false
	}
	return asOf.Truncate(time.Minute).Equal(t.asOf.Truncate(time.Minute))
}

func (t *SQLiteTracker) metaInt(key string) (int, error) {
	v, err := t.metaInt64(key)
	return int(v), err
}

func (t *SQLiteTracker) metaInt64(key string) (int64, error) {
	s, err := getMeta(t.db, "meta", key)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record meta %q value %q: %w", key, s, err)
	}
	return v, nil
}

// String identifies the tracker in logs.
func (t *SQLiteTracker) String() string {
	return fmt.Sprintf("tracker[%s %d]", t.info.ID, t.year)
}

// Employee returns the record's employee identity.
func (t *SQLiteTracker) Employee() model.EmployeeInfo { return t.info }

// Year returns the tracked calendar year.
func (t *SQLiteTracker) Year() int { return t.year }

// DaySchedule returns the contractual daily working time.
func (t *SQLiteTracker) DaySchedule() time.Duration { return t.daySchedule }

// OpeningBalance returns the time balance carried over from the
// previous year.
func (t *SQLiteTracker) OpeningBalance() time.Duration { return t.openingBalance }

// OpeningVacationDays returns the vacation allowance at January 1st.
func (t *SQLiteTracker) OpeningVacationDays() float64 { return t.openingVacation }

// MaxClocksPerDay returns the number of clock slots a day can hold.
func (t *SQLiteTracker) MaxClocksPerDay() int { return t.maxClocks }

// AsOf returns the reference datetime for derived values.
func (t *SQLiteTracker) AsOf() time.Time { return t.asOf }

// SetAsOf moves the reference datetime. Previously computed values may
// no longer reflect it, so the evaluated view becomes unavailable
// until the next evaluation.
func (t *SQLiteTracker) SetAsOf(at time.Time) {
	if !at.Truncate(time.Minute).Equal(t.asOf.Truncate(time.Minute)) {
		t.readable = false
	}
	t.asOf = at
}

// checkDate rejects dates outside the tracked year.
func (t *SQLiteTracker) checkDate(date model.Date) error {
	if date.Year() != t.year {
		return fmt.Errorf("%w: %s not in %d", common.ErrYearMismatch, model.FormatDate(date), t.year)
	}
	return nil
}

// mutate runs a raw-view write. The evaluated view is invalidated
// before anything is persisted so a failed write can never leave stale
// derived values readable.
func (t *SQLiteTracker) mutate(fn func(tx *sql.Tx) error) error {
	if t.closed {
		return common.ErrTrackerClosed
	}
	if t.readonly {
		return common.ErrReadOnly
	}

	t.readable = false

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin record write: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec(
		`UPDATE meta SET value = CAST(value AS INTEGER) + 1 WHERE key = ?`, metaRawRevision,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to bump record revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record write: %w", err)
	}
	t.rawRevision++
	return nil
}

// Clocks returns the day's clock slot sequence. Even slots are
// clock-ins, odd slots clock-outs; a hole below the highest filled
// slot yields a nil entry.
func (t *SQLiteTracker) Clocks(date model.Date) ([]*model.ClockEvent, error) {
	if t.closed {
		return nil, common.ErrTrackerClosed
	}
	if err := t.checkDate(date); err != nil {
		return nil, err
	}

	rows, err := t.db.Query(
		`SELECT slot, time FROM clocks WHERE date = ? ORDER BY slot`, model.FormatDate(date))
	if err != nil {
		return nil, fmt.Errorf("failed to read clocks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []*model.ClockEvent
	for rows.Next() {
		var slot int
		var timeStr string
		if err := rows.Scan(&slot, &timeStr); err != nil {
			return nil, fmt.Errorf("failed to scan clock row: %w", err)
		}
		at, err := model.ParseTimeOfDay(timeStr)
		if err != nil {
			return nil, err
		}
		for len(events) < slot {
			events = append(events, nil)
		}
		events = append(events, &model.ClockEvent{At: at, Direction: slotDirection(slot)})
	}
	return events, rows.Err()
}

func slotDirection(slot int) model.ClockDirection {
	if slot%2 == 0 {
		return model.DirectionIn
	}
	return model.DirectionOut
}

// RegisterClock writes the event into the next slot matching its
// direction, leaving a hole when two same-direction events arrive in a
// row.
func (t *SQLiteTracker) RegisterClock(date model.Date, event model.ClockEvent) error {
	if err := t.checkDate(date); err != nil {
		return err
	}

	events, err := t.Clocks(date)
	if err != nil {
		return err
	}

	slot := len(events)
	if slotDirection(slot) != event.Direction {
		slot++
	}
	if slot >= t.maxClocks {
		return fmt.Errorf("day %s is full: no free slot for %s", model.FormatDate(date), event)
	}

	return t.mutate(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO clocks (date, slot, time) VALUES (?, ?, ?)`,
			model.FormatDate(date), slot, event.At.String())
		if err != nil {
			return fmt.Errorf("failed to register %s on %s: %w", event, model.FormatDate(date), err)
		}
		return nil
	})
}

// WriteClocks replaces the day's whole slot sequence. Nil entries
// leave their slot empty; each event's direction must match its slot
// parity.
func (t *SQLiteTracker) WriteClocks(date model.Date, events []*model.ClockEvent) error {
	if err := t.checkDate(date); err != nil {
		return err
	}
	if len(events) > t.maxClocks {
		return fmt.Errorf("%d events exceed the %d slots per day", len(events), t.maxClocks)
	}
	for slot, event := range events {
		if event != nil && event.Direction != slotDirection(slot) {
			return fmt.Errorf("event %s cannot occupy %s slot %d", event, slotDirection(slot), slot)
		}
	}

	return t.mutate(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM clocks WHERE date = ?`, model.FormatDate(date)); err != nil {
			return fmt.Errorf("failed to clear clocks: %w", err)
		}
		for slot, event := range events {
			if event == nil {
				continue
			}
			if _, err := tx.Exec(
				`INSERT INTO clocks (date, slot, time) VALUES (?, ?, ?)`,
				model.FormatDate(date), slot, event.At.String()); err != nil {
				return fmt.Errorf("failed to write clock slot %d: %w", slot, err)
			}
		}
		return nil
	})
}

// IsClockedIn reports whether the day's last recorded event is a
// clock-in.
func (t *SQLiteTracker) IsClockedIn(date model.Date) (bool, error) {
	events, err := t.Clocks(date)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}
	last := events[len(events)-1]
	return last != nil && last.Direction == model.DirectionIn, nil
}

// Vacation returns the planned vacation ratio for a day (0 when none).
func (t *SQLiteTracker) Vacation(date model.Date) (float64, error) {
	if t.closed {
		return 0, common.ErrTrackerClosed
	}
	if err := t.checkDate(date); err != nil {
		return 0, err
	}

	var ratio float64
	err := t.db.QueryRow(
		`SELECT ratio FROM vacations WHERE date = ?`, model.FormatDate(date)).Scan(&ratio)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read vacation: %w", err)
	}
	return ratio, nil
}

// SetVacation plans a vacation ratio for a day; 0 removes the entry.
func (t *SQLiteTracker) SetVacation(date model.Date, ratio float64) error {
	if err := t.checkDate(date); err != nil {
		return err
	}
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("vacation ratio %g out of range [0, 1]", ratio)
	}

	return t.mutate(func(tx *sql.Tx) error {
		if ratio == 0 {
			_, err := tx.Exec(`DELETE FROM vacations WHERE date = ?`, model.FormatDate(date))
			return err
		}
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO vacations (date, ratio) VALUES (?, ?)`,
			model.FormatDate(date), ratio)
		return err
	})
}

// DayError returns the recorded attendance error for a day, 0 meaning
// none.
func (t *SQLiteTracker) DayError(date model.Date) (int, error) {
	if t.closed {
		return 0, common.ErrTrackerClosed
	}
	if err := t.checkDate(date); err != nil {
		return 0, err
	}

	var errorID int
	err := t.db.QueryRow(
		`SELECT error_id FROM day_errors WHERE date = ?`, model.FormatDate(date)).Scan(&errorID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read day error: %w", err)
	}
	return errorID, nil
}

// SetDayError records an attendance error for a day; 0 clears it.
func (t *SQLiteTracker) SetDayError(date model.Date, errorID int) error {
	if err := t.checkDate(date); err != nil {
		return err
	}
	if errorID < 0 {
		return fmt.Errorf("negative error id %d", errorID)
	}

	return t.mutate(func(tx *sql.Tx) error {
		if errorID == 0 {
			_, err := tx.Exec(`DELETE FROM day_errors WHERE date = ?`, model.FormatDate(date))
			return err
		}
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO day_errors (date, error_id) VALUES (?, ?)`,
			model.FormatDate(date), errorID)
		return err
	})
}

// Anchor returns the validation anchor date.
func (t *SQLiteTracker) Anchor() (model.Date, error) {
	if t.closed {
		return time.Time{}, common.ErrTrackerClosed
	}
	s, err := getMeta(t.db, "meta", metaAnchor)
	if err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: record has no validation anchor", common.ErrIntegrity)
	}
	return model.ParseDate(s)
}

// SetAnchor moves the validation anchor. The anchor must stay inside
// the tracked year.
func (t *SQLiteTracker) SetAnchor(date model.Date) error {
	if err := t.checkDate(date); err != nil {
		return err
	}
	return t.mutate(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
			metaAnchor, model.FormatDate(date))
		return err
	})
}

// Readable reports whether the evaluated view is currently available.
func (t *SQLiteTracker) Readable() bool { return t.readable && !t.closed }

// Evaluate runs the external engine over the local record file and
// reloads both views. The engine gets one retry before the failure is
// surfaced.
func (t *SQLiteTracker) Evaluate(ctx context.Context) error {
	if t.closed {
		return common.ErrTrackerClosed
	}

	// Stamp the reference datetime for the engine. Not a raw-data
	// mutation, so the revision is untouched.
	if _, err := t.db.Exec(
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		metaAsOf, t.asOf.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to stamp reference datetime: %w", err)
	}

	// The engine rewrites the file in place; the connection must not
	// hold it while that happens.
	if err := t.db.Close(); err != nil {
		return fmt.Errorf("failed to close record before evaluation: %w", err)
	}

	evalErr := t.evaluator.Evaluate(ctx, t.localPath)
	if evalErr != nil {
		slog.Warn("Evaluation failed, retrying once",
			"tracker", t.String(), "error", evalErr)
		evalErr = t.evaluator.Evaluate(ctx, t.localPath)
	}

	db, err := openDB(t.localPath)
	if err != nil {
		t.closed = true
		return fmt.Errorf("record unusable after evaluation: %w", err)
	}
	t.db = db
	if err := t.loadMeta(); err != nil {
		return err
	}

	if evalErr != nil {
		return fmt.Errorf("%w: %v", common.ErrEvaluationFailed, evalErr)
	}
	if !t.readable {
		return fmt.Errorf("%w: engine output does not match raw revision %d",
			common.ErrEvaluationFailed, t.rawRevision)
	}
	return nil
}

// Analyze makes the engine-computed error reads available for the
// given reference datetime, evaluating only when needed.
func (t *SQLiteTracker) Analyze(ctx context.Context, until time.Time) error {
	if t.closed {
		return common.ErrTrackerClosed
	}
	t.SetAsOf(until)
	if t.readable {
		return nil
	}
	return t.Evaluate(ctx)
}

// Save persists the raw view back to the remote repository. It never
// triggers an evaluation.
func (t *SQLiteTracker) Save(ctx context.Context) error {
	if t.closed {
		return common.ErrTrackerClosed
	}
	if t.readonly {
		return fmt.Errorf("%w: cannot save", common.ErrReadOnly)
	}
	return t.store.Save(ctx, t.localPath)
}

// Close releases the record. It always attempts the repository release
// even if closing the database fails, and is safe to call more than
// once.
func (t *SQLiteTracker) Close(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.readable = false

	if err := t.db.Close(); err != nil {
		slog.Warn("Failed to close record file", "tracker", t.String(), "error", err)
	}

	if t.readonly {
		return t.store.ReleaseReadOnly(ctx, t.localPath)
	}
	return t.store.Release(ctx, t.localPath)
}
