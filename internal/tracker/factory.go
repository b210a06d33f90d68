package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timebridge/timebridge/internal/common"
	"github.com/timebridge/timebridge/internal/repository"
	"github.com/timebridge/timebridge/internal/service"
)

// Factory opens trackers on top of repository-acquired record files.
// It implements service.TrackerFactory.
type Factory struct {
	repo      *repository.Repository
	evaluator service.Evaluator
	// Now is the clock used for the default reference datetime;
	// overridable in tests.
	Now func() time.Time
}

var _ service.TrackerFactory = (*Factory)(nil)

// NewFactory wires a factory to a repository and an evaluation engine.
func NewFactory(repo *repository.Repository, evaluator service.Evaluator) *Factory {
	return &Factory{repo: repo, evaluator: evaluator, Now: time.Now}
}

// Create acquires the employee's record exclusively and opens it for
// the given year.
func (f *Factory) Create(ctx context.Context, employeeID string, year int) (service.TrackerAnalyzer, error) {
	return f.open(ctx, employeeID, year, false)
}

// CreateReadOnly opens the employee's record without taking the remote
// lock.
func (f *Factory) CreateReadOnly(ctx context.Context, employeeID string, year int) (service.TrackerAnalyzer, error) {
	return f.open(ctx, employeeID, year, true)
}

func (f *Factory) open(ctx context.Context, employeeID string, year int, readonly bool) (service.TrackerAnalyzer, error) {
	var localPath string
	var err error
	if readonly {
		localPath, err = f.repo.AcquireReadOnly(ctx, employeeID)
	} else {
		localPath, err = f.repo.Acquire(ctx, employeeID)
	}
	if err != nil {
		return nil, err
	}

	t, err := Open(localPath, f.repo, f.evaluator, Options{
		AsOf:     f.Now(),
		ReadOnly: readonly,
	})
	if err != nil {
		// Opening failed after acquisition: the local copy may be
		// corrupt, so the lock deliberately stays behind for manual
		// inspection. A read-only copy carries no lock and is simply
		// dropped.
		if readonly {
			if relErr := f.repo.ReleaseReadOnly(ctx, localPath); relErr != nil {
				slog.Warn("Failed to drop read-only copy", "path", localPath, "error", relErr)
			}
		}
		return nil, fmt.Errorf("failed to open record for employee %q: %w", employeeID, err)
	}

	if t.Year() != year {
		// The record is intact, just for another year; release it
		// cleanly so the lock does not leak.
		if closeErr := t.Close(ctx); closeErr != nil {
			slog.Warn("Failed to close mismatched record", "tracker", t.String(), "error", closeErr)
		}
		return nil, fmt.Errorf("%w: record for employee %q tracks %d, requested %d",
			common.ErrYearMismatch, employeeID, t.Year(), year)
	}
	return t, nil
}

// ListEmployeeIDs enumerates the employees registered in the
// repository.
func (f *Factory) ListEmployeeIDs(ctx context.Context) ([]string, error) {
	return f.repo.ListIDs(ctx)
}
