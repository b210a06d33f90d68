// Package validate runs attendance validation over a tracker: it
// merges the errors already stored in the record with the richer
// findings of the record's own analysis engine, scans the unvalidated
// day range with pluggable checkers, and advances the validation
// anchor past every day that came out clean.
package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/timebridge/timebridge/internal/common"
	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/service"
)

// Result is the outcome of one validation pass.
type Result struct {
	// Status is the overall severity, the worst over ByDate.
	Status model.ErrorStatus
	// Worst is the most severe error found, zero-valued when none.
	Worst model.AttendanceError
	// ByDate maps each faulty day to its error, merged from the
	// stored errors, the analyzer findings and the checker scan.
	ByDate map[model.Date]model.AttendanceError
}

// Validator validates trackers with a fixed set of checkers.
type Validator struct {
	checkers []service.Checker
}

// New builds a validator. Checkers run in the given order on every
// scanned day; the highest flagged error id wins.
func New(checkers ...service.Checker) *Validator {
	return &Validator{checkers: checkers}
}

// Validate runs one incremental validation pass over the tracker up to
// but excluding the given datetime's day. Newly found errors are
// written back to the record and saved; the anchor advances to the
// first new error, or to the scan boundary when the range is clean.
//
// When the merged pre-scan errors already contain an ERROR, the scan
// is skipped: days past a blocking error cannot be meaningfully
// classified until it is fixed.
func (v *Validator) Validate(ctx context.Context, t service.Tracker, until model.Date) (Result, error) {
	result := Result{ByDate: make(map[model.Date]model.AttendanceError)}

	anchor, err := t.Anchor()
	if err != nil {
		return result, err
	}
	if anchor.Year() != t.Year() {
		return result, fmt.Errorf("%w: anchor %s outside tracked year %d",
			common.ErrIntegrity, model.FormatDate(anchor), t.Year())
	}

	untilDay := model.DateOf(until)
	yearStart := model.NewDate(t.Year(), 1, 1)

	// Stored errors first: every day from the start of the year, not
	// just the unvalidated range, contributes to the overall status.
	merged := make(map[model.Date]int)
	for day := yearStart; day.Before(untilDay); day = day.AddDate(0, 0, 1) {
		errorID, err := t.DayError(day)
		if err != nil {
			return result, err
		}
		if errorID != model.ErrIDNone {
			merged[day] = errorID
		}
	}

	// Merge in the analyzer findings when the tracker has that
	// capability; on conflicting days the more severe error wins. The
	// analyzer's own year aggregate must agree with the merged worst,
	// otherwise the two views of the record contradict each other.
	if analyzer, ok := t.(service.TrackerAnalyzer); ok {
		if err := v.mergeAnalysis(ctx, analyzer, yearStart, untilDay, merged); err != nil {
			return result, err
		}
		yearError, err := analyzer.ReadYearError()
		if err != nil {
			return result, err
		}
		if mergedWorst := worstOf(merged); yearError != mergedWorst {
			return result, fmt.Errorf("%w: analyzer year error %d does not match worst merged day error %d",
				common.ErrIntegrity, yearError, mergedWorst)
		}
	}

	worst := worstOf(merged)
	if model.StatusFromID(worst) != model.StatusError {
		firstFlagged, flagged, changed, err := v.scan(t, anchor, untilDay, merged)
		if err != nil {
			return result, err
		}

		newAnchor := untilDay
		if flagged {
			newAnchor = firstFlagged
		}
		if changed || !newAnchor.Equal(anchor) {
			if err := t.SetAnchor(newAnchor); err != nil {
				return result, err
			}
			if err := t.Save(ctx); err != nil {
				return result, err
			}
		}
		worst = worstOf(merged)
	} else {
		slog.Debug("Blocking error present, day scan skipped",
			"employee", t.Employee().ID, "worst", worst)
	}

	for day, errorID := range merged {
		result.ByDate[day] = model.NewAttendanceError(errorID)
	}
	result.Worst = model.NewAttendanceError(worst)
	result.Status = result.Worst.Status()
	return result, nil
}

// mergeAnalysis evaluates the record and folds the engine's per-day
// errors into merged, keeping the worse of the two sources per day.
func (v *Validator) mergeAnalysis(ctx context.Context, analyzer service.TrackerAnalyzer, yearStart, untilDay model.Date, merged map[model.Date]int) error {
	if err := analyzer.Analyze(ctx, untilDay); err != nil {
		return err
	}

	for day := yearStart; day.Before(untilDay); day = day.AddDate(0, 0, 1) {
		errorID, err := analyzer.ReadDayError(day)
		if err != nil {
			return err
		}
		if errorID > merged[day] {
			merged[day] = errorID
		}
	}
	return nil
}

// scan runs the checkers over [anchor, untilDay) and writes back every
// raised error. The first flagged day is reported even when its stored
// error already covers the finding, so the anchor lands on the same day
// on every rerun. changed reports whether any day error was written.
func (v *Validator) scan(t service.Tracker, anchor, untilDay model.Date, merged map[model.Date]int) (firstFlagged model.Date, flagged, changed bool, err error) {
	for day := anchor; day.Before(untilDay); day = day.AddDate(0, 0, 1) {
		found := model.ErrIDNone
		for _, checker := range v.checkers {
			hit, err := checker.CheckDate(t, day)
			if err != nil {
				return firstFlagged, flagged, changed, err
			}
			if hit && checker.ErrorID() > found {
				found = checker.ErrorID()
			}
		}
		if found == model.ErrIDNone {
			continue
		}

		if !flagged {
			firstFlagged = day
			flagged = true
		}
		stored, err := t.DayError(day)
		if err != nil {
			return firstFlagged, flagged, changed, err
		}
		if found > stored {
			if err := t.SetDayError(day, found); err != nil {
				return firstFlagged, flagged, changed, err
			}
			changed = true
		}
		if found > merged[day] {
			merged[day] = found
		}
	}
	return firstFlagged, flagged, changed, nil
}

func worstOf(merged map[model.Date]int) int {
	worst := model.ErrIDNone
	for _, errorID := range merged {
		if errorID > worst {
			worst = errorID
		}
	}
	return worst
}
