package validate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timebridge/timebridge/internal/common"
	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/service"
)

// stubTracker is an in-memory raw view. It deliberately implements
// only service.Tracker, so the validator's capability check fails and
// no analyzer merge happens; the embedded interface panics on any
// method the validator should not touch.
type stubTracker struct {
	service.Tracker

	year      int
	anchor    model.Date
	dayErrors map[string]int
	clocks    map[string][]*model.ClockEvent
	saves     int
}

func newStubTracker(year int, anchor model.Date) *stubTracker {
	return &stubTracker{
		year:      year,
		anchor:    anchor,
		dayErrors: make(map[string]int),
		clocks:    make(map[string][]*model.ClockEvent),
	}
}

func (s *stubTracker) Employee() model.EmployeeInfo { return model.EmployeeInfo{ID: "042"} }
func (s *stubTracker) Year() int                    { return s.year }
func (s *stubTracker) Anchor() (model.Date, error)  { return s.anchor, nil }
func (s *stubTracker) SetAnchor(date model.Date) error {
	s.anchor = date
	return nil
}
func (s *stubTracker) DayError(date model.Date) (int, error) {
	return s.dayErrors[model.FormatDate(date)], nil
}
func (s *stubTracker) SetDayError(date model.Date, errorID int) error {
	s.dayErrors[model.FormatDate(date)] = errorID
	return nil
}
func (s *stubTracker) Clocks(date model.Date) ([]*model.ClockEvent, error) {
	return s.clocks[model.FormatDate(date)], nil
}
func (s *stubTracker) Save(context.Context) error {
	s.saves++
	return nil
}

// stubAnalyzer adds the richer-analysis capability on top of the stub
// raw view. A negative yearError derives the aggregate from the stored
// and engine day errors, the way a consistent engine would.
type stubAnalyzer struct {
	*stubTracker

	analyzeCalls int
	engineErrors map[string]int
	yearError    int
}

func (s *stubAnalyzer) Analyze(context.Context, time.Time) error {
	s.analyzeCalls++
	return nil
}
func (s *stubAnalyzer) ReadDayError(date model.Date) (int, error) {
	return s.engineErrors[model.FormatDate(date)], nil
}
func (s *stubAnalyzer) ReadYearError() (int, error) {
	if s.yearError >= 0 {
		return s.yearError, nil
	}
	worst := model.ErrIDNone
	for _, errorID := range s.engineErrors {
		if errorID > worst {
			worst = errorID
		}
	}
	for _, errorID := range s.dayErrors {
		if errorID > worst {
			worst = errorID
		}
	}
	return worst, nil
}

// eleventhDayChecker flags every 11th day of the month with a high
// severity error.
type eleventhDayChecker struct{}

func (eleventhDayChecker) ErrorID() int { return 110 }
func (eleventhDayChecker) CheckDate(_ service.Tracker, date model.Date) (bool, error) {
	return date.Day()%11 == 0, nil
}

// fixedDayChecker flags exactly one date with the given error id.
type fixedDayChecker struct {
	date model.Date
	id   int
}

func (c fixedDayChecker) ErrorID() int { return c.id }
func (c fixedDayChecker) CheckDate(_ service.Tracker, date model.Date) (bool, error) {
	return date.Equal(c.date), nil
}

// panicChecker fails the test if the scan runs at all.
type panicChecker struct{ t *testing.T }

func (panicChecker) ErrorID() int { return 999 }
func (c panicChecker) CheckDate(service.Tracker, model.Date) (bool, error) {
	c.t.Fatal("checker must not run when a blocking error is present")
	return false, nil
}

func day(month time.Month, d int) model.Date { return model.NewDate(2025, month, d) }

func TestValidateMergesAllSourcesAndAdvancesAnchor(t *testing.T) {
	raw := newStubTracker(2025, day(time.January, 10))
	raw.dayErrors[model.FormatDate(day(time.January, 2))] = 10
	raw.dayErrors[model.FormatDate(day(time.February, 5))] = 10
	raw.dayErrors[model.FormatDate(day(time.January, 20))] = 20

	tracker := &stubAnalyzer{
		stubTracker: raw,
		engineErrors: map[string]int{
			model.FormatDate(day(time.January, 12)): 40,
			model.FormatDate(day(time.January, 20)): 30,
		},
		yearError: 40,
	}

	v := New(eleventhDayChecker{})
	result, err := v.Validate(context.Background(), tracker, day(time.February, 20))
	require.NoError(t, err)

	assert.Equal(t, model.StatusError, result.Status)
	assert.Equal(t, 110, result.Worst.ID)
	assert.Equal(t, 1, tracker.analyzeCalls)

	want := map[string]int{
		model.FormatDate(day(time.January, 2)):   10,
		model.FormatDate(day(time.January, 11)):  110,
		model.FormatDate(day(time.January, 12)):  40,
		model.FormatDate(day(time.January, 20)):  30, // richer analysis wins over stored 20
		model.FormatDate(day(time.January, 22)):  110,
		model.FormatDate(day(time.February, 5)):  10,
		model.FormatDate(day(time.February, 11)): 110,
	}
	got := make(map[string]int, len(result.ByDate))
	for date, attErr := range result.ByDate {
		got[model.FormatDate(date)] = attErr.ID
	}
	assert.Equal(t, want, got)

	// The anchor moves to the first newly found error, and the new
	// errors are persisted.
	assert.Equal(t, "2025-01-11", model.FormatDate(raw.anchor))
	assert.Equal(t, 110, raw.dayErrors[model.FormatDate(day(time.February, 11))])
	assert.Equal(t, 1, raw.saves)
}

func TestValidateSecondPassIsStable(t *testing.T) {
	raw := newStubTracker(2025, day(time.January, 10))
	tracker := &stubAnalyzer{stubTracker: raw, engineErrors: map[string]int{}, yearError: -1}

	v := New(eleventhDayChecker{})
	until := day(time.February, 20)

	first, err := v.Validate(context.Background(), tracker, until)
	require.NoError(t, err)
	require.Equal(t, model.StatusError, first.Status)
	anchorAfterFirst := raw.anchor
	savesAfterFirst := raw.saves

	// The found errors now block the scan; nothing moves anymore.
	second, err := v.Validate(context.Background(), tracker, until)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Worst, second.Worst)
	assert.Equal(t, anchorAfterFirst, raw.anchor)
	assert.Equal(t, savesAfterFirst, raw.saves)
}

func TestValidateWarningRerunKeepsAnchor(t *testing.T) {
	tracker := newStubTracker(2025, day(time.January, 1))
	v := New(fixedDayChecker{date: day(time.January, 5), id: model.ErrIDContinuousWork})
	until := day(time.February, 20)

	first, err := v.Validate(context.Background(), tracker, until)
	require.NoError(t, err)
	require.Equal(t, model.StatusWarning, first.Status)
	require.Equal(t, "2025-01-05", model.FormatDate(tracker.anchor))
	require.Equal(t, 1, tracker.saves)

	// A warning does not block the rescan; the anchor must stay pinned
	// on the flagged day instead of jumping to the boundary, even though
	// the stored error already matches the finding.
	second, err := v.Validate(context.Background(), tracker, until)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Worst, second.Worst)
	assert.Equal(t, "2025-01-05", model.FormatDate(tracker.anchor))
	assert.Equal(t, 1, tracker.saves, "nothing changed, nothing to save")
}

func TestValidateCleanRangeAdvancesAnchorToBoundary(t *testing.T) {
	tracker := newStubTracker(2025, day(time.January, 1))

	v := New(ClockSequenceChecker{}, MissingClockChecker{})
	result, err := v.Validate(context.Background(), tracker, day(time.February, 20))
	require.NoError(t, err)

	assert.Equal(t, model.StatusNone, result.Status)
	assert.Empty(t, result.ByDate)
	assert.Equal(t, "2025-02-20", model.FormatDate(tracker.anchor))
	assert.Equal(t, 1, tracker.saves)
}

func TestValidateNothingToDoSavesNothing(t *testing.T) {
	until := day(time.February, 20)
	tracker := newStubTracker(2025, until)

	v := New(eleventhDayChecker{})
	result, err := v.Validate(context.Background(), tracker, until)
	require.NoError(t, err)

	assert.Equal(t, model.StatusNone, result.Status)
	assert.Zero(t, tracker.saves)
}

func TestValidateBlockingErrorSkipsScan(t *testing.T) {
	tracker := newStubTracker(2025, day(time.January, 10))
	tracker.dayErrors[model.FormatDate(day(time.January, 5))] = model.ErrIDClocksUnordered

	v := New(panicChecker{t: t})
	result, err := v.Validate(context.Background(), tracker, day(time.February, 20))
	require.NoError(t, err)

	assert.Equal(t, model.StatusError, result.Status)
	assert.Equal(t, model.ErrIDClocksUnordered, result.Worst.ID)
	assert.Equal(t, "2025-01-10", model.FormatDate(tracker.anchor), "anchor must not move past a blocking error")
	assert.Zero(t, tracker.saves)
}

func TestValidateWarningsDoNotBlockScan(t *testing.T) {
	tracker := newStubTracker(2025, day(time.January, 10))
	tracker.dayErrors[model.FormatDate(day(time.January, 5))] = model.ErrIDContinuousWork

	v := New(ClockSequenceChecker{})
	result, err := v.Validate(context.Background(), tracker, day(time.February, 20))
	require.NoError(t, err)

	assert.Equal(t, model.StatusWarning, result.Status)
	assert.Equal(t, "2025-02-20", model.FormatDate(tracker.anchor))
}

func TestValidateAnchorOutsideYear(t *testing.T) {
	tracker := newStubTracker(2025, model.NewDate(2024, time.December, 31))

	v := New()
	_, err := v.Validate(context.Background(), tracker, day(time.February, 20))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

func TestValidateInconsistentAnalyzer(t *testing.T) {
	raw := newStubTracker(2025, day(time.January, 1))
	tracker := &stubAnalyzer{
		stubTracker: raw,
		engineErrors: map[string]int{
			model.FormatDate(day(time.January, 12)): 40,
		},
		yearError: 0, // contradicts the day cell above
	}

	v := New()
	_, err := v.Validate(context.Background(), tracker, day(time.February, 20))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

func TestValidateAnalyzerIgnoresStoredError(t *testing.T) {
	raw := newStubTracker(2025, day(time.January, 1))
	raw.dayErrors[model.FormatDate(day(time.January, 3))] = 50

	tracker := &stubAnalyzer{
		stubTracker:  raw,
		engineErrors: map[string]int{},
		yearError:    0, // misses the stored day error above
	}

	v := New()
	_, err := v.Validate(context.Background(), tracker, day(time.February, 20))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

func TestValidateWithoutAnalyzerCapability(t *testing.T) {
	tracker := newStubTracker(2025, day(time.January, 1))
	tracker.dayErrors[model.FormatDate(day(time.January, 2))] = 10

	v := New()
	result, err := v.Validate(context.Background(), tracker, day(time.February, 20))
	require.NoError(t, err)
	assert.Equal(t, model.StatusWarning, result.Status)
	assert.Len(t, result.ByDate, 1)
}

func clockAt(t *testing.T, hhmm string, dir model.ClockDirection) *model.ClockEvent {
	t.Helper()
	at, err := model.ParseTimeOfDay(hhmm)
	require.NoError(t, err)
	return &model.ClockEvent{At: at, Direction: dir}
}

func TestContinuousWorkChecker(t *testing.T) {
	tracker := newStubTracker(2025, day(time.January, 1))
	date := day(time.January, 6)
	tracker.clocks[model.FormatDate(date)] = []*model.ClockEvent{
		clockAt(t, "06:00", model.DirectionIn),
		clockAt(t, "13:00", model.DirectionOut),
	}

	checker := ContinuousWorkChecker{Max: 6 * time.Hour}
	flagged, err := checker.CheckDate(tracker, date)
	require.NoError(t, err)
	assert.True(t, flagged)

	checker.Max = 8 * time.Hour
	flagged, err = checker.CheckDate(tracker, date)
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestClockSequenceChecker(t *testing.T) {
	tracker := newStubTracker(2025, day(time.January, 1))
	date := day(time.January, 6)
	tracker.clocks[model.FormatDate(date)] = []*model.ClockEvent{
		clockAt(t, "09:00", model.DirectionIn),
		clockAt(t, "08:00", model.DirectionOut), // out before in
	}

	flagged, err := ClockSequenceChecker{}.CheckDate(tracker, date)
	require.NoError(t, err)
	assert.True(t, flagged)

	tracker.clocks[model.FormatDate(date)] = []*model.ClockEvent{
		clockAt(t, "08:00", model.DirectionIn),
		clockAt(t, "12:00", model.DirectionOut),
	}
	flagged, err = ClockSequenceChecker{}.CheckDate(tracker, date)
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestMissingClockChecker(t *testing.T) {
	tracker := newStubTracker(2025, day(time.January, 1))
	date := day(time.January, 6)

	// Empty day: nothing missing.
	flagged, err := MissingClockChecker{}.CheckDate(tracker, date)
	require.NoError(t, err)
	assert.False(t, flagged)

	// A hole in the slot sequence.
	tracker.clocks[model.FormatDate(date)] = []*model.ClockEvent{
		clockAt(t, "08:00", model.DirectionIn),
		nil,
		nil,
		clockAt(t, "17:00", model.DirectionOut),
	}
	flagged, err = MissingClockChecker{}.CheckDate(tracker, date)
	require.NoError(t, err)
	assert.True(t, flagged)

	// A work period left open.
	tracker.clocks[model.FormatDate(date)] = []*model.ClockEvent{
		clockAt(t, "08:00", model.DirectionIn),
	}
	flagged, err = MissingClockChecker{}.CheckDate(tracker, date)
	require.NoError(t, err)
	assert.True(t, flagged)
}
