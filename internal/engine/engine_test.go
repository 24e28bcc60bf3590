package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dayline/internal/config"
	"dayline/internal/db"
	"dayline/internal/domain"
	"dayline/internal/engine"
	"dayline/internal/migrate"
)

const testCatalog = `program:
  name: test-program
  days: 3

tasks:
  move:
    name: "Move"
    category: fitness
  read:
    name: "Read"
    category: mind

variants:
  solo:
    daily: [move, read]

achievements:
  - id: starter
    name: Starter
    category: fitness
    tier: 1
    requirements:
      - {task: move, count: 1}
  - id: streak
    name: Streak
    category: fitness
    tier: 2
    requirements:
      - {task: move, count: 3, consecutive: true}
`

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Start  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	start := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return start }
	env := &testEnv{Engine: eng, Ctx: context.Background(), Start: start}
	if _, err := eng.CreateProfile(env.Ctx, "u1", "solo", start); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return env
}

func (env *testEnv) complete(t *testing.T, taskID string) engine.OutcomeResult {
	t.Helper()
	res, err := env.Engine.CompleteTask(env.Ctx, "u1", taskID)
	if err != nil {
		t.Fatalf("complete %s: %v", taskID, err)
	}
	return res
}

func (env *testEnv) skip(t *testing.T, taskID string) engine.OutcomeResult {
	t.Helper()
	res, err := env.Engine.SkipTask(env.Ctx, "u1", taskID, nil)
	if err != nil {
		t.Fatalf("skip %s: %v", taskID, err)
	}
	return res
}

func TestResolvingDayAdvancesAndAutoFollows(t *testing.T) {
	env := newTestEnv(t)
	res := env.complete(t, "move")
	if res.State.ActiveDay != 1 || res.State.ViewingDay != 1 {
		t.Fatalf("partial day should not advance: %+v", res.State)
	}
	res = env.complete(t, "read")
	if res.State.ActiveDay != 2 {
		t.Fatalf("expected active day 2, got %d", res.State.ActiveDay)
	}
	if res.State.ViewingDay != 2 {
		t.Fatalf("viewing should auto-follow to 2, got %d", res.State.ViewingDay)
	}
	if res.State.FurthestUnlockedDay != 2 {
		t.Fatalf("expected furthest unlocked 2, got %d", res.State.FurthestUnlockedDay)
	}
}

func TestSkipResolvesDayWithoutAchievementCredit(t *testing.T) {
	env := newTestEnv(t)
	env.skip(t, "move")
	res := env.complete(t, "read")
	if res.State.ActiveDay != 2 {
		t.Fatalf("skip should still resolve the day, got active %d", res.State.ActiveDay)
	}
	for _, def := range res.NewlyUnlocked {
		if def.ID == "starter" {
			t.Fatalf("skipped move must not earn starter")
		}
	}
	statuses, err := env.Engine.Achievements(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range statuses {
		if s.Definition.ID == "starter" && s.Unlocked {
			t.Fatalf("starter should remain locked after a skip")
		}
	}
}

func TestRetractionNeverRelocksAchievements(t *testing.T) {
	env := newTestEnv(t)
	res := env.complete(t, "move")
	if len(res.NewlyUnlocked) != 1 || res.NewlyUnlocked[0].ID != "starter" {
		t.Fatalf("expected starter to unlock, got %+v", res.NewlyUnlocked)
	}
	// Reverse the outcome on the same pair: the unlock must survive and
	// must not be reported a second time.
	res = env.skip(t, "move")
	if len(res.NewlyUnlocked) != 0 {
		t.Fatalf("retraction reported unlocks: %+v", res.NewlyUnlocked)
	}
	statuses, err := env.Engine.Achievements(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range statuses {
		if s.Definition.ID == "starter" {
			found = s.Unlocked
		}
	}
	if !found {
		t.Fatalf("starter re-locked after retraction")
	}
	// The pair holds exactly one record; the day is still resolvable.
	view, err := env.Engine.ViewingDay(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Skipped != 1 || view.Completed != 0 {
		t.Fatalf("expected single skip record, got %+v", view)
	}
}

func TestOutcomesRejectedOffActiveDay(t *testing.T) {
	env := newTestEnv(t)
	env.complete(t, "move")
	env.complete(t, "read")
	if _, moved, err := env.Engine.NavigateToDay(env.Ctx, "u1", 1); err != nil || !moved {
		t.Fatalf("navigate back: moved=%v err=%v", moved, err)
	}
	_, err := env.Engine.CompleteTask(env.Ctx, "u1", "move")
	var wrongDay domain.WrongDayError
	if !errors.As(err, &wrongDay) {
		t.Fatalf("expected WrongDayError, got %v", err)
	}
	if wrongDay.ViewingDay != 1 || wrongDay.ActiveDay != 2 {
		t.Fatalf("unexpected days in error: %+v", wrongDay)
	}
}

func TestUnknownTaskRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CompleteTask(env.Ctx, "u1", "floss")
	var unknown domain.UnknownTaskError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTaskError, got %v", err)
	}
}

func TestNavigationBoundaries(t *testing.T) {
	env := newTestEnv(t)
	if _, moved, err := env.Engine.NavigatePrevious(env.Ctx, "u1"); err != nil || moved {
		t.Fatalf("previous at day 1: moved=%v err=%v", moved, err)
	}
	if _, moved, err := env.Engine.NavigateNext(env.Ctx, "u1"); err != nil || moved {
		t.Fatalf("next beyond furthest: moved=%v err=%v", moved, err)
	}
	if _, moved, err := env.Engine.NavigateToDay(env.Ctx, "u1", 99); err != nil || moved {
		t.Fatalf("goto out of range: moved=%v err=%v", moved, err)
	}
	_, err := env.Engine.Day(env.Ctx, "u1", 3)
	var locked domain.DayLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected DayLockedError for locked day, got %v", err)
	}
}

func TestCalendarTimeNeverSkipsUnresolvedDays(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Now = func() time.Time { return env.Start.Add(5 * 24 * time.Hour) }
	state, err := env.Engine.State(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if state.ActiveDay != 1 {
		t.Fatalf("day 1 unresolved; active should stay 1, got %d", state.ActiveDay)
	}
	// Resolving day 1 lets the calendar catch the user up to day 2 only.
	env.complete(t, "move")
	res := env.complete(t, "read")
	if res.State.ActiveDay != 2 {
		t.Fatalf("expected active day 2 after resolving day 1, got %d", res.State.ActiveDay)
	}
}

func TestManualNavigationStopsAutoFollow(t *testing.T) {
	env := newTestEnv(t)
	env.complete(t, "move")
	env.complete(t, "read")
	if _, moved, err := env.Engine.NavigateToDay(env.Ctx, "u1", 1); err != nil || !moved {
		t.Fatalf("navigate back: moved=%v err=%v", moved, err)
	}
	state, err := env.Engine.GoToToday(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if state.ViewingDay != 2 || state.ManualNavigation {
		t.Fatalf("today should land on the active day without manual flag: %+v", state)
	}
}

func TestProgramCompletionIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	for day := 1; day <= 3; day++ {
		env.complete(t, "move")
		res := env.complete(t, "read")
		if day < 3 && res.State.ActiveDay != day+1 {
			t.Fatalf("day %d: expected advance to %d, got %d", day, day+1, res.State.ActiveDay)
		}
		if day == 3 {
			if !res.State.ProgramComplete {
				t.Fatalf("expected program complete, got %+v", res.State)
			}
			// The run over days 1..3 satisfies the consecutive streak.
			unlocked := map[string]bool{}
			for _, def := range res.NewlyUnlocked {
				unlocked[def.ID] = true
			}
			if !unlocked["streak"] {
				t.Fatalf("expected streak unlock on day 3, got %+v", res.NewlyUnlocked)
			}
		}
	}
	_, err := env.Engine.CompleteTask(env.Ctx, "u1", "move")
	if !errors.Is(err, domain.ErrProgramComplete) {
		t.Fatalf("expected terminal rejection, got %v", err)
	}
}

func TestResetWipesProgress(t *testing.T) {
	env := newTestEnv(t)
	env.complete(t, "move")
	env.complete(t, "read")
	if err := env.Engine.Reset(env.Ctx, "u1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	state, err := env.Engine.State(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if state.ActiveDay != 1 || state.ViewingDay != 1 || state.DistinctProgressDays != 0 {
		t.Fatalf("expected clean state after reset, got %+v", state)
	}
	statuses, err := env.Engine.Achievements(env.Ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range statuses {
		if s.Unlocked {
			t.Fatalf("achievement %s survived reset", s.Definition.ID)
		}
	}
}

func TestUnknownVariantRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProfile(env.Ctx, "u2", "heroic", env.Start); err == nil {
		t.Fatalf("expected unknown variant error")
	}
}
