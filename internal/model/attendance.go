package model

import "fmt"

// ErrorStatus classifies an attendance error id by severity.
type ErrorStatus int

const (
	// StatusNone means no attendance error.
	StatusNone ErrorStatus = iota
	// StatusWarning flags a suspicious day that does not block
	// further validation.
	StatusWarning
	// StatusError flags a day that must be fixed before validation
	// can make progress.
	StatusError
)

func (s ErrorStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("ErrorStatus(%d)", int(s))
	}
}

// Well-known attendance error ids. Ids below 100 are warnings, ids of
// 100 and above are errors; higher means more severe within a status.
const (
	ErrIDNone            = 0
	ErrIDContinuousWork  = 10
	ErrIDClocksUnordered = 100
	ErrIDClockMissing    = 101
)

// StatusFromID maps an error id to its severity class.
func StatusFromID(id int) ErrorStatus {
	switch {
	case id <= 0:
		return StatusNone
	case id < 100:
		return StatusWarning
	default:
		return StatusError
	}
}

var errorDescriptions = map[int]string{
	ErrIDNone:            "no error",
	ErrIDContinuousWork:  "continuous work period too long",
	ErrIDClocksUnordered: "clock events out of order",
	ErrIDClockMissing:    "missing clock event",
}

// DescribeError returns a human-readable description of an error id.
func DescribeError(id int) string {
	if desc, ok := errorDescriptions[id]; ok {
		return desc
	}
	return fmt.Sprintf("attendance error %d", id)
}

// AttendanceError is an identified attendance anomaly on a day.
type AttendanceError struct {
	ID          int
	Description string
}

// NewAttendanceError builds an error value from its id.
func NewAttendanceError(id int) AttendanceError {
	return AttendanceError{ID: id, Description: DescribeError(id)}
}

// Status returns the severity class of the error.
func (e AttendanceError) Status() ErrorStatus {
	return StatusFromID(e.ID)
}

func (e AttendanceError) String() string {
	return fmt.Sprintf("[%d] %s", e.ID, e.Description)
}
