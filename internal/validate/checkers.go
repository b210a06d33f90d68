package validate

import (
	"time"

	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/service"
)

// ContinuousWorkChecker flags days with a single work period longer
// than Max. It reports a warning: long stretches are suspicious but do
// not block validation.
type ContinuousWorkChecker struct {
	Max time.Duration
}

func (c ContinuousWorkChecker) ErrorID() int { return model.ErrIDContinuousWork }

func (c ContinuousWorkChecker) CheckDate(t service.Tracker, date model.Date) (bool, error) {
	events, err := t.Clocks(date)
	if err != nil {
		return false, err
	}
	for slot := 0; slot+1 < len(events); slot += 2 {
		in, out := events[slot], events[slot+1]
		if in == nil || out == nil {
			continue
		}
		if out.At.Sub(in.At) > c.Max {
			return true, nil
		}
	}
	return false, nil
}

// ClockSequenceChecker flags days whose clock events do not occur in
// chronological order.
type ClockSequenceChecker struct{}

func (c ClockSequenceChecker) ErrorID() int { return model.ErrIDClocksUnordered }

func (c ClockSequenceChecker) CheckDate(t service.Tracker, date model.Date) (bool, error) {
	events, err := t.Clocks(date)
	if err != nil {
		return false, err
	}
	var prev *model.ClockEvent
	for _, event := range events {
		if event == nil {
			continue
		}
		if prev != nil && prev.At >= event.At {
			return true, nil
		}
		prev = event
	}
	return false, nil
}

// MissingClockChecker flags days with a hole in the slot sequence or a
// work period left open, meaning an event was never recorded.
type MissingClockChecker struct{}

func (c MissingClockChecker) ErrorID() int { return model.ErrIDClockMissing }

func (c MissingClockChecker) CheckDate(t service.Tracker, date model.Date) (bool, error) {
	events, err := t.Clocks(date)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}
	for _, event := range events {
		if event == nil {
			return true, nil
		}
	}
	last := events[len(events)-1]
	return last.Direction != model.DirectionOut, nil
}
