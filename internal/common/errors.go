// Package common provides shared utilities used across the
// application: logging setup, sentinel errors and retry helpers.
package common

import "errors"

// Application-wide sentinel errors. Components wrap these with
// contextual detail; callers test with errors.Is.
var (
	// Repository errors.
	ErrRepositoryUnavailable = errors.New("repository unavailable")
	ErrRecordNotFound        = errors.New("record not found")
	ErrAmbiguousRecord       = errors.New("more than one record file matches")
	ErrLockTimeout           = errors.New("record lock timeout")
	ErrSaveTimeout           = errors.New("record save timeout")
	ErrReleaseTimeout        = errors.New("record release timeout")
	ErrAlreadyOpen           = errors.New("record already open")

	// Tracker errors.
	ErrNotEvaluated     = errors.New("evaluated view unavailable")
	ErrReadOnly         = errors.New("record opened read-only")
	ErrYearMismatch     = errors.New("date outside tracked year")
	ErrEvaluationFailed = errors.New("external evaluation failed")
	ErrTrackerClosed    = errors.New("tracker is closed")

	// Pool errors.
	ErrInUse      = errors.New("tracker already checked out")
	ErrPoolClosed = errors.New("pool is closed")

	// Validation errors.
	ErrIntegrity = errors.New("record integrity violation")

	// Retry errors.
	ErrTimeout = errors.New("retry window exceeded")
)
