package domain

// Completion is one recorded outcome for a (day, task) pair. At most one
// active record exists per pair; recording a new outcome replaces the old one.
type Completion struct {
	UserID      string  `json:"user_id"`
	TaskID      string  `json:"task_id"`
	Day         int     `json:"day"`
	CompletedAt string  `json:"completed_at" format:"date-time"`
	Skipped     bool    `json:"skipped"`
	SkipReason  *string `json:"skip_reason,omitempty"`
}

// Profile is the persisted per-user program state. CurrentDay is a cached
// hint for external consumers; gating logic always recomputes the active day
// from the completion log.
type Profile struct {
	UserID           string `json:"user_id"`
	Variant          string `json:"variant"`
	StartDate        string `json:"start_date" format:"date-time"`
	CurrentDay       int    `json:"current_day"`
	ViewingDay       int    `json:"viewing_day"`
	ManualNavigation bool   `json:"manual_navigation"`
	CreatedAt        string `json:"created_at" format:"date-time"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

// ProgramState is the derived view of where the user stands in the program.
type ProgramState struct {
	ActiveDay            int  `json:"active_day"`
	ViewingDay           int  `json:"viewing_day"`
	FurthestUnlockedDay  int  `json:"furthest_unlocked_day"`
	ManualNavigation     bool `json:"manual_navigation"`
	ProgramDays          int  `json:"program_days"`
	ProgramComplete      bool `json:"program_complete"`
	ActiveDayResolved    bool `json:"active_day_resolved"`
	DistinctProgressDays int  `json:"distinct_progress_days"`
}

// DayView describes one program day's tasks and their recorded outcomes.
type DayView struct {
	Day           int          `json:"day"`
	Tasks         []TaskStatus `json:"tasks"`
	Completed     int          `json:"completed"`
	Skipped       int          `json:"skipped"`
	Remaining     int          `json:"remaining"`
	FullyResolved bool         `json:"fully_resolved"`
	IsActive      bool         `json:"is_active"`
}

// TaskStatus is a task's outcome within a DayView.
type TaskStatus struct {
	TaskID     string  `json:"task_id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Completed  bool    `json:"completed"`
	Skipped    bool    `json:"skipped"`
	SkipReason *string `json:"skip_reason,omitempty"`
}

// Requirement is one condition of an achievement. Consecutive requirements
// need an unbroken run of qualifying program days; otherwise a cumulative
// count is enough.
type Requirement struct {
	TaskID      string `json:"task_id" yaml:"task"`
	Count       int    `json:"count" yaml:"count"`
	Consecutive bool   `json:"consecutive,omitempty" yaml:"consecutive,omitempty"`
}

// AchievementDefinition is a static catalog entry. All requirements must be
// satisfied for the achievement to unlock.
type AchievementDefinition struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Category     string        `json:"category" yaml:"category"`
	Tier         int           `json:"tier" yaml:"tier"`
	Requirements []Requirement `json:"requirements" yaml:"requirements"`
}

// UnlockedAchievement records the first moment an achievement's requirements
// were satisfied. The fact of unlocking is persisted so achievements do not
// re-lock if completions are later retracted.
type UnlockedAchievement struct {
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	UnlockedAt    string `json:"unlocked_at" format:"date-time"`
}

// Event is one audit log entry.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Day     int    `json:"day,omitempty"`
	Payload string `json:"payload_json"`
}

// APIKey authenticates SDK and automation callers.
type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
