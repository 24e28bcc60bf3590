package unlock

import (
	"sort"

	"dayline/internal/domain"
)

// Result is the outcome of one evaluation pass. Unlocked carries every
// satisfied achievement including previously known ones; NewlyUnlocked is the
// delta against the previously known set, in catalog order.
type Result struct {
	Unlocked      map[string]bool
	NewlyUnlocked []domain.AchievementDefinition
}

// Evaluate scans the completion log against the achievement catalog. The log
// is read-only here; the caller owns persistence of the unlocked set. An
// achievement that ever appeared in previously is kept unlocked even when the
// log no longer satisfies it, so retractions never re-lock achievements.
func Evaluate(defs []domain.AchievementDefinition, log []domain.Completion, previously map[string]bool) Result {
	res := Result{Unlocked: make(map[string]bool, len(previously))}
	for id := range previously {
		res.Unlocked[id] = true
	}
	days := daysByTask(log)
	for _, def := range defs {
		if previously[def.ID] {
			continue
		}
		if satisfied(def, days) {
			res.Unlocked[def.ID] = true
			res.NewlyUnlocked = append(res.NewlyUnlocked, def)
		}
	}
	return res
}

// RequirementProgress reports how far a single requirement has come: the
// cumulative match count, or the longest consecutive-day run for consecutive
// requirements.
func RequirementProgress(r domain.Requirement, log []domain.Completion) int {
	days := daysByTask(log)[r.TaskID]
	if r.Consecutive {
		return longestRun(days)
	}
	return len(days)
}

// Satisfied reports whether every requirement of the definition holds against
// the log.
func Satisfied(def domain.AchievementDefinition, log []domain.Completion) bool {
	return satisfied(def, daysByTask(log))
}

func satisfied(def domain.AchievementDefinition, days map[string][]int) bool {
	for _, r := range def.Requirements {
		if !requirementMet(r, days[r.TaskID]) {
			return false
		}
	}
	return true
}

// requirementMet checks one requirement against the distinct qualifying days
// for its task. A task with zero matches simply fails the requirement.
func requirementMet(r domain.Requirement, days []int) bool {
	if r.Consecutive {
		return longestRun(days) >= r.Count
	}
	return len(days) >= r.Count
}

// daysByTask collects the distinct days with a non-skipped record per task,
// sorted ascending. Skips never count toward achievements.
func daysByTask(log []domain.Completion) map[string][]int {
	seen := make(map[string]map[int]bool)
	for _, c := range log {
		if c.Skipped {
			continue
		}
		if seen[c.TaskID] == nil {
			seen[c.TaskID] = make(map[int]bool)
		}
		seen[c.TaskID][c.Day] = true
	}
	out := make(map[string][]int, len(seen))
	for task, set := range seen {
		days := make([]int, 0, len(set))
		for d := range set {
			days = append(days, d)
		}
		sort.Ints(days)
		out[task] = days
	}
	return out
}

// longestRun returns the length of the longest unbroken arithmetic run with
// step 1 in a sorted, deduplicated day list. A single missing day breaks the
// run regardless of later matches.
func longestRun(days []int) int {
	best, run := 0, 0
	for i, d := range days {
		if i > 0 && d == days[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}
