package tracker

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/timebridge/timebridge/internal/model"
)

// Meta keys of the raw view.
const (
	metaEmployeeID      = "employee_id"
	metaFirstName       = "first_name"
	metaLastName        = "last_name"
	metaYear            = "year"
	metaAnchor          = "anchor"
	metaDaySchedule     = "day_schedule_min"
	metaOpeningBalance  = "opening_balance_min"
	metaOpeningVacation = "opening_vacation_days"
	metaMaxClocks       = "max_clocks_per_day"
	metaRawRevision     = "raw_revision"
	metaAsOf            = "as_of"
)

// Keys of eval_meta, written by the evaluation engine.
const (
	evalRawRevision       = "raw_revision"
	evalAsOf              = "as_of"
	evalYearError         = "year_error_id"
	evalYTDBalance        = "ytd_balance_min"
	evalRemainingVacation = "remaining_vacation"
	evalYearVacation      = "year_vacation"
)

// schemaStatements create the record file layout. The raw tables are
// owned by this module; the eval_* tables are populated by the
// external evaluation engine and only read here.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS clocks (
		date TEXT    NOT NULL,
		slot INTEGER NOT NULL,
		time TEXT    NOT NULL,
		PRIMARY KEY (date, slot)
	)`,
	`CREATE TABLE IF NOT EXISTS day_errors (
		date     TEXT PRIMARY KEY,
		error_id INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vacations (
		date  TEXT PRIMARY KEY,
		ratio REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS eval_days (
		date         TEXT PRIMARY KEY,
		schedule_min INTEGER NOT NULL DEFAULT 0,
		worked_min   INTEGER NOT NULL DEFAULT 0,
		balance_min  INTEGER NOT NULL DEFAULT 0,
		error_id     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS eval_months (
		month        INTEGER PRIMARY KEY,
		schedule_min INTEGER NOT NULL DEFAULT 0,
		worked_min   INTEGER NOT NULL DEFAULT 0,
		balance_min  INTEGER NOT NULL DEFAULT 0,
		vacation     REAL    NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS eval_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// CreateOptions configure a freshly provisioned record file.
type CreateOptions struct {
	DaySchedule         time.Duration
	OpeningBalance      time.Duration
	OpeningVacationDays float64
	MaxClocksPerDay     int
}

func (o *CreateOptions) applyDefaults() {
	if o.DaySchedule <= 0 {
		o.DaySchedule = 8*time.Hour + 24*time.Minute
	}
	if o.MaxClocksPerDay <= 0 {
		o.MaxClocksPerDay = 8
	}
}

// CreateRecordFile provisions a new record file for an employee and
// year at the given path. The validation anchor starts at January 1st
// of the tracked year.
func CreateRecordFile(path string, info model.EmployeeInfo, year int, opts CreateOptions) error {
	opts.applyDefaults()

	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := ensureSchema(db); err != nil {
		return err
	}

	meta := map[string]string{
		metaEmployeeID:      info.ID,
		metaFirstName:       info.FirstName,
		metaLastName:        info.LastName,
		metaYear:            fmt.Sprintf("%d", year),
		metaAnchor:          model.FormatDate(model.NewDate(year, time.January, 1)),
		metaDaySchedule:     fmt.Sprintf("%d", int(opts.DaySchedule.Minutes())),
		metaOpeningBalance:  fmt.Sprintf("%d", int(opts.OpeningBalance.Minutes())),
		metaOpeningVacation: fmt.Sprintf("%g", opts.OpeningVacationDays),
		metaMaxClocks:       fmt.Sprintf("%d", opts.MaxClocksPerDay),
		metaRawRevision:     "0",
	}
	for key, value := range meta {
		if _, err := db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to write record meta %q: %w", key, err)
		}
	}
	return nil
}

func openDB(path string) (*sql.DB, error) {
	// Record files travel across a network share, so they stay on the
	// rollback journal: after a commit the single file is the whole
	// consistent state and can be copied as-is.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=DELETE&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open record file %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping record file %q: %w", path, err)
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create record schema: %w", err)
		}
	}
	return nil
}

func getMeta(db *sql.DB, table, key string) (string, error) {
	var value string
	err := db.QueryRow(fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, table), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s key %q: %w", table, key, err)
	}
	return value, nil
}
