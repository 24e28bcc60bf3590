package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dayline/internal/config"
	"dayline/internal/domain"
	"dayline/internal/events"
	"dayline/internal/repo"
	"dayline/internal/unlock"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Catalog *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, catalog *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Catalog: catalog,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// OutcomeResult is returned from CompleteTask/SkipTask: the recomputed state,
// the viewing day's tasks, and any achievements unlocked by this outcome.
type OutcomeResult struct {
	State         domain.ProgramState
	Day           domain.DayView
	NewlyUnlocked []domain.AchievementDefinition
}

// AchievementStatus pairs a catalog definition with the user's standing.
type AchievementStatus struct {
	Definition   domain.AchievementDefinition `json:"definition"`
	Unlocked     bool                         `json:"unlocked"`
	UnlockedAt   string                       `json:"unlocked_at,omitempty"`
	Requirements []RequirementStatus          `json:"requirements"`
}

// RequirementStatus reports progress toward one requirement.
type RequirementStatus struct {
	TaskID      string `json:"task_id"`
	Target      int    `json:"target"`
	Current     int    `json:"current"`
	Consecutive bool   `json:"consecutive,omitempty"`
	Met         bool   `json:"met"`
}

// userState bundles everything an operation needs: the profile, its catalog,
// and the full completion log re-read from storage. Every operation derives
// gating decisions from this, never from cached counters.
type userState struct {
	Profile domain.Profile
	Catalog *config.Config
	Log     []domain.Completion
	Index   completionIndex
	Start   time.Time
	Now     time.Time
}

func (e Engine) loadUser(ctx context.Context, userID string) (userState, error) {
	p, err := e.Repo.GetProfile(ctx, userID)
	if err != nil {
		return userState{}, err
	}
	cfg, err := e.catalogFor(ctx, userID)
	if err != nil {
		return userState{}, err
	}
	log, err := e.Repo.ListCompletions(ctx, userID)
	if err != nil {
		return userState{}, err
	}
	start, err := time.Parse(time.RFC3339, p.StartDate)
	if err != nil {
		return userState{}, fmt.Errorf("profile %s start date: %w", userID, err)
	}
	return userState{
		Profile: p,
		Catalog: cfg,
		Log:     log,
		Index:   indexLog(log),
		Start:   start,
		Now:     e.now(),
	}, nil
}

// catalogFor prefers the user's stored catalog and falls back to the
// workspace default.
func (e Engine) catalogFor(ctx context.Context, userID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProgramConfig(ctx, userID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if e.Catalog != nil {
		return e.Catalog, nil
	}
	return config.Default(), nil
}

// CreateProfile starts a user on a program variant. The catalog is stored
// alongside so later catalog edits do not reshape past days.
func (e Engine) CreateProfile(ctx context.Context, userID, variant string, start time.Time) (domain.Profile, error) {
	if userID == "" {
		return domain.Profile{}, errors.New("user id is required")
	}
	cfg := e.Catalog
	if cfg == nil {
		cfg = config.Default()
	}
	if !cfg.HasVariant(variant) {
		return domain.Profile{}, fmt.Errorf("unknown program variant %s (have %s)", variant, strings.Join(cfg.VariantNames(), ", "))
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Profile{
		UserID:     userID,
		Variant:    variant,
		StartDate:  start.UTC().Format(time.RFC3339),
		CurrentDay: 1,
		ViewingDay: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProfile(ctx, tx, p); err != nil {
		return domain.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	if err := e.Repo.UpsertProgramConfigTx(ctx, tx, userID, cfg); err != nil {
		return domain.Profile{}, fmt.Errorf("store program catalog: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "profile.created", userID, "", 0, events.EventPayload{"variant": variant, "start_date": p.StartDate}); err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// State recomputes the program state from the completion log.
func (e Engine) State(ctx context.Context, userID string) (domain.ProgramState, error) {
	st, err := e.loadUser(ctx, userID)
	if err != nil {
		return domain.ProgramState{}, err
	}
	return deriveState(st.Catalog, st.Profile, st.Index, st.Start, st.Now), nil
}

// Day returns the task statuses for any unlocked day. Days beyond the
// furthest unlocked one are not viewable.
func (e Engine) Day(ctx context.Context, userID string, day int) (domain.DayView, error) {
	st, err := e.loadUser(ctx, userID)
	if err != nil {
		return domain.DayView{}, err
	}
	furthest := furthestUnlockedDay(st.Catalog, st.Profile.Variant, st.Index)
	if day < 1 || day > furthest {
		return domain.DayView{}, domain.DayLockedError{Day: day}
	}
	active := activeDay(st.Catalog, st.Profile.Variant, st.Index, st.Start, st.Now)
	return dayView(st.Catalog, st.Profile.Variant, st.Index, day, active), nil
}

// ViewingDay returns the task statuses for the persisted viewing cursor.
func (e Engine) ViewingDay(ctx context.Context, userID string) (domain.DayView, error) {
	st, err := e.loadUser(ctx, userID)
	if err != nil {
		return domain.DayView{}, err
	}
	active := activeDay(st.Catalog, st.Profile.Variant, st.Index, st.Start, st.Now)
	return dayView(st.Catalog, st.Profile.Variant, st.Index, st.Profile.ViewingDay, active), nil
}

// CompleteTask records a completion for a task on the active day.
func (e Engine) CompleteTask(ctx context.Context, userID, taskID string) (OutcomeResult, error) {
	return e.recordOutcome(ctx, userID, taskID, false, nil)
}

// SkipTask records an explicit bypass for a task on the active day.
func (e Engine) SkipTask(ctx context.Context, userID, taskID string, reason *string) (OutcomeResult, error) {
	return e.recordOutcome(ctx, userID, taskID, true, reason)
}

func (e Engine) recordOutcome(ctx context.Context, userID, taskID string, skipped bool, reason *string) (OutcomeResult, error) {
	st, err := e.loadUser(ctx, userID)
	if err != nil {
		return OutcomeResult{}, err
	}
	cfg, p := st.Catalog, st.Profile
	active := activeDay(cfg, p.Variant, st.Index, st.Start, st.Now)
	if active == cfg.Program.Days && st.Index.fullyResolved(cfg, p.Variant, active) {
		return OutcomeResult{}, domain.ErrProgramComplete
	}
	if p.ViewingDay != active {
		return OutcomeResult{}, domain.WrongDayError{ViewingDay: p.ViewingDay, ActiveDay: active}
	}
	// Re-check the prerequisite even though activeDay's derivation guarantees
	// it; this guards against a racing writer between read and mutation.
	if active > 1 && !st.Index.fullyResolved(cfg, p.Variant, active-1) {
		return OutcomeResult{}, domain.DayLockedError{Day: active}
	}
	if !taskAssigned(cfg, p.Variant, active, taskID) {
		return OutcomeResult{}, domain.UnknownTaskError{TaskID: taskID, Day: active}
	}

	nowStr := st.Now.UTC().Format(time.RFC3339)
	rec := domain.Completion{
		UserID:      userID,
		TaskID:      taskID,
		Day:         active,
		CompletedAt: nowStr,
		Skipped:     skipped,
	}
	if skipped && reason != nil && *reason != "" {
		rec.SkipReason = reason
	}

	prev, err := e.Repo.ListUnlocked(ctx, userID)
	if err != nil {
		return OutcomeResult{}, err
	}
	prevSet := make(map[string]bool, len(prev))
	for _, u := range prev {
		prevSet[u.AchievementID] = true
	}

	updated := replaceRecord(st.Log, rec)
	idx := indexLog(updated)
	newActive := activeDay(cfg, p.Variant, idx, st.Start, st.Now)

	viewing, manual := p.ViewingDay, p.ManualNavigation
	if idx.fullyResolved(cfg, p.Variant, active) && active < cfg.Program.Days && !manual && viewing == active {
		viewing = newActive
	}

	res := unlock.Evaluate(cfg.Achievements, updated, prevSet)

	// One transaction for record, cursors, unlocks and events: a failed write
	// leaves nothing partially applied and the operation is retryable.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return OutcomeResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertCompletion(ctx, tx, rec); err != nil {
		return OutcomeResult{}, fmt.Errorf("record outcome: %w", err)
	}
	evtType := "task.completed"
	payload := events.EventPayload{}
	if skipped {
		evtType = "task.skipped"
		if rec.SkipReason != nil {
			payload["reason"] = *rec.SkipReason
		}
	}
	if err := e.Events.Append(ctx, tx, evtType, userID, taskID, active, payload); err != nil {
		return OutcomeResult{}, err
	}
	if newActive != active {
		if err := e.Events.Append(ctx, tx, "day.advanced", userID, "", newActive, events.EventPayload{"from": active}); err != nil {
			return OutcomeResult{}, err
		}
	}
	for _, def := range res.NewlyUnlocked {
		if err := e.Repo.InsertUnlocked(ctx, tx, domain.UnlockedAchievement{
			UserID:        userID,
			AchievementID: def.ID,
			UnlockedAt:    nowStr,
		}); err != nil {
			return OutcomeResult{}, fmt.Errorf("record unlock %s: %w", def.ID, err)
		}
		if err := e.Events.Append(ctx, tx, "achievement.unlocked", userID, "", active, events.EventPayload{"achievement_id": def.ID}); err != nil {
			return OutcomeResult{}, err
		}
	}
	if err := e.Repo.UpdateCursors(ctx, tx, userID, newActive, viewing, manual, nowStr); err != nil {
		return OutcomeResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return OutcomeResult{}, err
	}

	p.ViewingDay = viewing
	p.ManualNavigation = manual
	return OutcomeResult{
		State:         deriveState(cfg, p, idx, st.Start, st.Now),
		Day:           dayView(cfg, p.Variant, idx, viewing, newActive),
		NewlyUnlocked: res.NewlyUnlocked,
	}, nil
}

// NavigateToDay moves the viewing cursor. Out-of-range targets are a routine
// boundary condition: the state is returned unchanged with moved=false.
func (e Engine) NavigateToDay(ctx context.Context, userID string, day int) (domain.ProgramState, bool, error) {
	st, err := e.loadUser(ctx, userID)
	if err != nil {
		return domain.ProgramState{}, false, err
	}
	return e.navigate(ctx, st, day)
}

// NavigatePrevious moves the viewing cursor one day back.
func (e Engine) NavigatePrevious(ctx context.Context, userID string) (domain.ProgramState, bool, error) {
	st, err := e.loadUser(ctx, userID)
	if err != nil {
		return domain.ProgramState{}, false, err
	}
	return e.navigate(ctx, st, st.Profile.ViewingDay-1)
}

// NavigateNext moves the viewing cursor one day forward, bounded by the
// furthest unlocked day.
func (e Engine) NavigateNext(ctx context.Context, userID string) (domain.ProgramState, bool, error) {
	st, err := e.loadUser(ctx, userID)
	if err != nil {
		return domain.ProgramState{}, false, err
	}
	return e.navigate(ctx, st, st.Profile.ViewingDay+1)
}

// GoToToday clears manual navigation and returns to the active day.
func (e Engine) GoToToday(ctx context.Context, userID string) (domain.ProgramState, error) {
	st, err := e.loadUser(ctx, userID)
	if err != nil {
		return domain.ProgramState{}, err
	}
	active := activeDay(st.Catalog, st.Profile.Variant, st.Index, st.Start, st.Now)
	state, _, err := e.applyNavigation(ctx, st, active, false)
	return state, err
}

func (e Engine) navigate(ctx context.Context, st userState, day int) (domain.ProgramState, bool, error) {
	furthest := furthestUnlockedDay(st.Catalog, st.Profile.Variant, st.Index)
	if day < 1 || day > furthest {
		return deriveState(st.Catalog, st.Profile, st.Index, st.Start, st.Now), false, nil
	}
	active := activeDay(st.Catalog, st.Profile.Variant, st.Index, st.Start, st.Now)
	return e.applyNavigation(ctx, st, day, day != active)
}

func (e Engine) applyNavigation(ctx context.Context, st userState, day int, manual bool) (domain.ProgramState, bool, error) {
	active := activeDay(st.Catalog, st.Profile.Variant, st.Index, st.Start, st.Now)
	nowStr := st.Now.UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProgramState{}, false, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCursors(ctx, tx, st.Profile.UserID, active, day, manual, nowStr); err != nil {
		return domain.ProgramState{}, false, err
	}
	if err := e.Events.Append(ctx, tx, "day.navigated", st.Profile.UserID, "", day, events.EventPayload{"manual": manual}); err != nil {
		return domain.ProgramState{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProgramState{}, false, err
	}
	st.Profile.ViewingDay = day
	st.Profile.ManualNavigation = manual
	return deriveState(st.Catalog, st.Profile, st.Index, st.Start, st.Now), true, nil
}

// Achievements returns every catalog achievement with the user's progress.
func (e Engine) Achievements(ctx context.Context, userID string) ([]AchievementStatus, error) {
	st, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlocked, err := e.Repo.ListUnlocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlockedAt := make(map[string]string, len(unlocked))
	for _, u := range unlocked {
		unlockedAt[u.AchievementID] = u.UnlockedAt
	}
	var out []AchievementStatus
	for _, def := range st.Catalog.Achievements {
		status := AchievementStatus{Definition: def}
		if at, ok := unlockedAt[def.ID]; ok {
			status.Unlocked = true
			status.UnlockedAt = at
		}
		for _, r := range def.Requirements {
			current := unlock.RequirementProgress(r, st.Log)
			status.Requirements = append(status.Requirements, RequirementStatus{
				TaskID:      r.TaskID,
				Target:      r.Count,
				Current:     current,
				Consecutive: r.Consecutive,
				Met:         current >= r.Count,
			})
		}
		out = append(out, status)
	}
	return out, nil
}

// Reset wipes all progress for the user: completions, unlocked achievements,
// and cursors back to day one.
func (e Engine) Reset(ctx context.Context, userID string) error {
	p, err := e.Repo.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteCompletions(ctx, tx, p.UserID); err != nil {
		return err
	}
	if err := e.Repo.DeleteUnlocked(ctx, tx, p.UserID); err != nil {
		return err
	}
	if err := e.Repo.UpdateCursors(ctx, tx, p.UserID, 1, 1, false, nowStr); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "progress.reset", p.UserID, "", 0, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func taskAssigned(cfg *config.Config, variant string, day int, taskID string) bool {
	for _, id := range cfg.TasksForDay(variant, day) {
		if id == taskID {
			return true
		}
	}
	return false
}

// replaceRecord applies retract-then-append semantics in memory so derived
// state can be recomputed before the transaction commits.
func replaceRecord(log []domain.Completion, rec domain.Completion) []domain.Completion {
	out := make([]domain.Completion, 0, len(log)+1)
	for _, c := range log {
		if c.Day == rec.Day && c.TaskID == rec.TaskID {
			continue
		}
		out = append(out, c)
	}
	return append(out, rec)
}
