package domain

import (
	"errors"
	"fmt"
)

// ErrProgramComplete is returned when recording an outcome after the final
// program day is fully resolved.
var ErrProgramComplete = errors.New("program complete; no further outcomes accepted")

// WrongDayError reports a complete/skip attempt outside the active day.
// It indicates an upstream UI/state bug, so it carries enough context to
// diagnose rather than being a bare sentinel.
type WrongDayError struct {
	ViewingDay int
	ActiveDay  int
}

func (e WrongDayError) Error() string {
	return fmt.Sprintf("cannot record task outcome on day %d; active day is %d", e.ViewingDay, e.ActiveDay)
}

// DayLockedError reports an attempt to act on a day whose prerequisite day
// is not fully resolved.
type DayLockedError struct {
	Day int
}

func (e DayLockedError) Error() string {
	return fmt.Sprintf("day %d is locked; the previous day is not fully resolved", e.Day)
}

// UnknownTaskError reports a task id not assigned to the given day.
type UnknownTaskError struct {
	TaskID string
	Day    int
}

func (e UnknownTaskError) Error() string {
	return fmt.Sprintf("task %s is not assigned to day %d", e.TaskID, e.Day)
}
