package engine

import (
	"time"

	"dayline/internal/config"
	"dayline/internal/domain"
)

// completionIndex groups a completion log by day for resolution checks.
// The engine recomputes all derived state from the full log on every
// operation; cached day counters are hints, never inputs.
type completionIndex struct {
	byDay map[int]map[string]domain.Completion
}

func indexLog(log []domain.Completion) completionIndex {
	idx := completionIndex{byDay: make(map[int]map[string]domain.Completion)}
	for _, c := range log {
		day := idx.byDay[c.Day]
		if day == nil {
			day = make(map[string]domain.Completion)
			idx.byDay[c.Day] = day
		}
		day[c.TaskID] = c
	}
	return idx
}

// fullyResolved reports whether every task assigned to the day has a
// completion or skip record.
func (idx completionIndex) fullyResolved(cfg *config.Config, variant string, day int) bool {
	tasks := cfg.TasksForDay(variant, day)
	if len(tasks) == 0 {
		return false
	}
	recorded := idx.byDay[day]
	for _, id := range tasks {
		if _, ok := recorded[id]; !ok {
			return false
		}
	}
	return true
}

// progressDays counts distinct days carrying at least one record.
func (idx completionIndex) progressDays() int {
	return len(idx.byDay)
}

// calendarDay converts wall-clock elapsed time into a 1-based program day.
func calendarDay(start, now time.Time) int {
	if now.Before(start) {
		return 1
	}
	return int(now.Sub(start)/(24*time.Hour)) + 1
}

// furthestUnlockedDay walks forward from day 1: day d is reachable when d==1
// or day d-1 is fully resolved. Calendar time plays no part here; only the
// prerequisite work matters.
func furthestUnlockedDay(cfg *config.Config, variant string, idx completionIndex) int {
	n := cfg.Program.Days
	day := 1
	for day < n && idx.fullyResolved(cfg, variant, day) {
		day++
	}
	return day
}

// activeDay combines the calendar/progress candidate with sequential gating:
// the user advances by finishing days early or by calendar time, but time
// passing never skips unresolved days. A fully resolved candidate day pushes
// the cursor onto the next unlocked day, so finishing early advances
// immediately instead of waiting for the calendar.
func activeDay(cfg *config.Config, variant string, idx completionIndex, start, now time.Time) int {
	n := cfg.Program.Days
	candidate := calendarDay(start, now)
	if p := idx.progressDays(); p > candidate {
		candidate = p
	}
	if candidate < 1 {
		candidate = 1
	}
	if candidate > n {
		candidate = n
	}
	furthest := furthestUnlockedDay(cfg, variant, idx)
	for candidate < furthest && idx.fullyResolved(cfg, variant, candidate) {
		candidate++
	}
	if candidate > furthest {
		return furthest
	}
	return candidate
}

// deriveState computes the full ProgramState from a profile's cursors and
// its completion log.
func deriveState(cfg *config.Config, p domain.Profile, idx completionIndex, start, now time.Time) domain.ProgramState {
	active := activeDay(cfg, p.Variant, idx, start, now)
	resolved := idx.fullyResolved(cfg, p.Variant, active)
	return domain.ProgramState{
		ActiveDay:            active,
		ViewingDay:           p.ViewingDay,
		FurthestUnlockedDay:  furthestUnlockedDay(cfg, p.Variant, idx),
		ManualNavigation:     p.ManualNavigation,
		ProgramDays:          cfg.Program.Days,
		ProgramComplete:      active == cfg.Program.Days && resolved,
		ActiveDayResolved:    resolved,
		DistinctProgressDays: idx.progressDays(),
	}
}

// dayView builds the task-by-task status of one day.
func dayView(cfg *config.Config, variant string, idx completionIndex, day, active int) domain.DayView {
	tasks := cfg.TasksForDay(variant, day)
	recorded := idx.byDay[day]
	view := domain.DayView{Day: day, IsActive: day == active}
	for _, id := range tasks {
		def, _ := cfg.Task(id)
		status := domain.TaskStatus{TaskID: id, Name: def.Name, Category: def.Category}
		if c, ok := recorded[id]; ok {
			if c.Skipped {
				status.Skipped = true
				status.SkipReason = c.SkipReason
				view.Skipped++
			} else {
				status.Completed = true
				view.Completed++
			}
		} else {
			view.Remaining++
		}
		view.Tasks = append(view.Tasks, status)
	}
	view.FullyResolved = len(tasks) > 0 && view.Remaining == 0
	return view
}
