package config

import (
	"strings"
	"testing"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	cfg := Default()
	if cfg.Program.Days != 63 {
		t.Fatalf("default program length = %d, want 63", cfg.Program.Days)
	}
	for _, variant := range []string{"beginner", "intermediate", "advanced"} {
		if !cfg.HasVariant(variant) {
			t.Fatalf("default catalog missing variant %s", variant)
		}
		for day := 1; day <= cfg.Program.Days; day++ {
			if len(cfg.TasksForDay(variant, day)) == 0 {
				t.Fatalf("variant %s day %d has no tasks", variant, day)
			}
		}
	}
}

func TestTasksForDayOverrides(t *testing.T) {
	cfg := Default()
	daily := cfg.TasksForDay("beginner", 3)
	weekly := cfg.TasksForDay("beginner", 7)
	if len(weekly) <= len(daily) {
		t.Fatalf("day 7 override should add tasks: daily=%v weekly=%v", daily, weekly)
	}
	if cfg.TasksForDay("beginner", 0) != nil {
		t.Fatalf("day 0 is out of range")
	}
	if cfg.TasksForDay("beginner", 64) != nil {
		t.Fatalf("day 64 is out of range")
	}
	if cfg.TasksForDay("nope", 1) != nil {
		t.Fatalf("unknown variant should yield nil")
	}
}

func TestValidateRejectsBadCatalogs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "zero days",
			yaml: `
program: {name: t, days: 0}
tasks:
  a: {name: A, category: c}
variants:
  v: {daily: [a]}
`,
			want: "days",
		},
		{
			name: "variant references unknown task",
			yaml: `
program: {name: t, days: 1}
tasks:
  a: {name: A, category: c}
variants:
  v: {daily: [a, ghost]}
`,
			want: "unknown task ghost",
		},
		{
			name: "override out of range",
			yaml: `
program: {name: t, days: 2}
tasks:
  a: {name: A, category: c}
variants:
  v:
    daily: [a]
    overrides:
      5: [a]
`,
			want: "outside 1..2",
		},
		{
			name: "task without category",
			yaml: `
program: {name: t, days: 1}
tasks:
  a: {name: A}
variants:
  v: {daily: [a]}
`,
			want: "no category",
		},
		{
			name: "achievement count below one",
			yaml: `
program: {name: t, days: 1}
tasks:
  a: {name: A, category: c}
variants:
  v: {daily: [a]}
achievements:
  - id: x
    name: X
    category: c
    tier: 1
    requirements:
      - {task: a, count: 0}
`,
			want: "count 0",
		},
		{
			name: "duplicate achievement id",
			yaml: `
program: {name: t, days: 1}
tasks:
  a: {name: A, category: c}
variants:
  v: {daily: [a]}
achievements:
  - id: x
    name: X
    category: c
    tier: 1
    requirements:
      - {task: a, count: 1}
  - id: x
    name: X again
    category: c
    tier: 2
    requirements:
      - {task: a, count: 2}
`,
			want: "duplicate achievement id",
		},
		{
			name: "achievement references unknown task",
			yaml: `
program: {name: t, days: 1}
tasks:
  a: {name: A, category: c}
variants:
  v: {daily: [a]}
achievements:
  - id: x
    name: X
    category: c
    tier: 1
    requirements:
      - {task: ghost, count: 1}
`,
			want: "unknown task ghost",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestFromYAMLParsesRequirements(t *testing.T) {
	cfg, err := FromYAML([]byte(`
program: {name: t, days: 10}
tasks:
  a: {name: A, category: c}
variants:
  v: {daily: [a]}
achievements:
  - id: run
    name: Run
    category: c
    tier: 1
    requirements:
      - {task: a, count: 5, consecutive: true}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := cfg.Achievements[0].Requirements[0]
	if r.TaskID != "a" || r.Count != 5 || !r.Consecutive {
		t.Fatalf("unexpected requirement: %+v", r)
	}
}
