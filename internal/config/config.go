package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"dayline/internal/domain"
)

// Config models a program catalog: the fixed task table, the per-variant
// daily curriculum, and the achievement definitions. Catalogs are static
// input data; the engine never mutates them.
type Config struct {
	Program struct {
		Name string `yaml:"name"`
		Days int    `yaml:"days"`
	} `yaml:"program"`
	Tasks        map[string]TaskDef             `yaml:"tasks"`
	Variants     map[string]Variant             `yaml:"variants"`
	Achievements []domain.AchievementDefinition `yaml:"achievements"`
}

// TaskDef declares a task and its category. Categories are explicit catalog
// data, never inferred from task id substrings.
type TaskDef struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// Variant assigns tasks to days: Daily applies to every day, Overrides
// replaces the whole task list for specific days.
type Variant struct {
	Daily     []string         `yaml:"daily"`
	Overrides map[int][]string `yaml:"overrides"`
}

// TasksForDay returns the ordered task ids assigned to a day, or nil when the
// variant is unknown or the day is out of range.
func (c *Config) TasksForDay(variant string, day int) []string {
	v, ok := c.Variants[variant]
	if !ok || day < 1 || day > c.Program.Days {
		return nil
	}
	if tasks, ok := v.Overrides[day]; ok {
		return tasks
	}
	return v.Daily
}

// Task returns the task definition for an id.
func (c *Config) Task(id string) (TaskDef, bool) {
	t, ok := c.Tasks[id]
	return t, ok
}

// VariantNames returns the declared variant names, sorted.
func (c *Config) VariantNames() []string {
	names := make([]string, 0, len(c.Variants))
	for name := range c.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasVariant reports whether the catalog declares the variant.
func (c *Config) HasVariant(name string) bool {
	_, ok := c.Variants[name]
	return ok
}

// Validate rejects malformed catalogs at load time so a bad entry cannot
// silently break evaluation later.
func (c *Config) Validate() error {
	if c.Program.Days < 1 {
		return fmt.Errorf("config.program.days must be >= 1")
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("config.tasks is required")
	}
	for id, t := range c.Tasks {
		if id == "" {
			return fmt.Errorf("config.tasks contains an empty task id")
		}
		if t.Name == "" {
			return fmt.Errorf("task %s has no name", id)
		}
		if t.Category == "" {
			return fmt.Errorf("task %s has no category", id)
		}
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("config.variants is required")
	}
	for name, v := range c.Variants {
		if name == "" {
			return fmt.Errorf("config.variants contains an empty variant name")
		}
		if len(v.Daily) == 0 {
			return fmt.Errorf("variant %s has no daily tasks", name)
		}
		for _, id := range v.Daily {
			if _, ok := c.Tasks[id]; !ok {
				return fmt.Errorf("variant %s references unknown task %s", name, id)
			}
		}
		for day, tasks := range v.Overrides {
			if day < 1 || day > c.Program.Days {
				return fmt.Errorf("variant %s overrides day %d outside 1..%d", name, day, c.Program.Days)
			}
			if len(tasks) == 0 {
				return fmt.Errorf("variant %s override for day %d is empty", name, day)
			}
			for _, id := range tasks {
				if _, ok := c.Tasks[id]; !ok {
					return fmt.Errorf("variant %s day %d references unknown task %s", name, day, id)
				}
			}
		}
	}
	seen := map[string]bool{}
	for _, a := range c.Achievements {
		if a.ID == "" {
			return fmt.Errorf("achievement with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate achievement id %s", a.ID)
		}
		seen[a.ID] = true
		if len(a.Requirements) == 0 {
			return fmt.Errorf("achievement %s has no requirements", a.ID)
		}
		for _, r := range a.Requirements {
			if r.TaskID == "" {
				return fmt.Errorf("achievement %s has a requirement with no task", a.ID)
			}
			if _, ok := c.Tasks[r.TaskID]; !ok {
				return fmt.Errorf("achievement %s references unknown task %s", a.ID, r.TaskID)
			}
			if r.Count < 1 {
				return fmt.Errorf("achievement %s requirement on %s has count %d; must be >= 1", a.ID, r.TaskID, r.Count)
			}
		}
	}
	return nil
}

// FromYAML parses and validates a catalog from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads a YAML catalog from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in 63-day catalog.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("built-in catalog invalid: %v", err))
	}
	return cfg
}

// DefaultYAML returns the built-in catalog as YAML, for export.
func DefaultYAML() string {
	return defaultTemplate
}

const defaultTemplate = `program:
  name: dayline-63
  days: 63

tasks:
  workout_primary:
    name: "45-minute workout"
    category: fitness
  workout_outdoor:
    name: "Outdoor workout"
    category: fitness
  hydration:
    name: "Drink 3 liters of water"
    category: nutrition
  clean_meal:
    name: "Stick to the meal plan"
    category: nutrition
  no_alcohol:
    name: "No alcohol"
    category: nutrition
  reading:
    name: "Read 10 pages"
    category: mind
  journal:
    name: "Write a journal entry"
    category: mind
  meditation:
    name: "10-minute meditation"
    category: mind
  progress_photo:
    name: "Take a progress photo"
    category: accountability
  weekly_review:
    name: "Weekly review"
    category: accountability

variants:
  beginner:
    daily: [workout_primary, hydration, reading]
    overrides:
      7: [workout_primary, hydration, reading, weekly_review]
      14: [workout_primary, hydration, reading, weekly_review]
      21: [workout_primary, hydration, reading, weekly_review]
      28: [workout_primary, hydration, reading, weekly_review]
      35: [workout_primary, hydration, reading, weekly_review]
      42: [workout_primary, hydration, reading, weekly_review]
      49: [workout_primary, hydration, reading, weekly_review]
      56: [workout_primary, hydration, reading, weekly_review]
      63: [workout_primary, hydration, reading, weekly_review, progress_photo]

  intermediate:
    daily: [workout_primary, hydration, clean_meal, reading, journal]
    overrides:
      7: [workout_primary, hydration, clean_meal, reading, journal, weekly_review]
      14: [workout_primary, hydration, clean_meal, reading, journal, weekly_review]
      21: [workout_primary, hydration, clean_meal, reading, journal, weekly_review]
      28: [workout_primary, hydration, clean_meal, reading, journal, weekly_review]
      35: [workout_primary, hydration, clean_meal, reading, journal, weekly_review]
      42: [workout_primary, hydration, clean_meal, reading, journal, weekly_review]
      49: [workout_primary, hydration, clean_meal, reading, journal, weekly_review]
      56: [workout_primary, hydration, clean_meal, reading, journal, weekly_review]
      63: [workout_primary, hydration, clean_meal, reading, journal, weekly_review, progress_photo]

  advanced:
    daily: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo]
    overrides:
      7: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo, weekly_review]
      14: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo, weekly_review]
      21: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo, weekly_review]
      28: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo, weekly_review]
      35: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo, weekly_review]
      42: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo, weekly_review]
      49: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo, weekly_review]
      56: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo, weekly_review]
      63: [workout_primary, workout_outdoor, hydration, clean_meal, no_alcohol, reading, progress_photo, weekly_review]

achievements:
  - id: first_steps
    name: First Steps
    category: fitness
    tier: 1
    requirements:
      - {task: workout_primary, count: 1}

  - id: week_one_warrior
    name: Week One Warrior
    category: fitness
    tier: 2
    requirements:
      - {task: workout_primary, count: 7, consecutive: true}

  - id: iron_habit
    name: Iron Habit
    category: fitness
    tier: 3
    requirements:
      - {task: workout_primary, count: 21, consecutive: true}

  - id: hydrated
    name: Hydrated
    category: nutrition
    tier: 1
    requirements:
      - {task: hydration, count: 10}

  - id: clean_fortnight
    name: Clean Fortnight
    category: nutrition
    tier: 2
    requirements:
      - {task: clean_meal, count: 14, consecutive: true}

  - id: bookworm
    name: Bookworm
    category: mind
    tier: 1
    requirements:
      - {task: reading, count: 10}

  - id: deep_reader
    name: Deep Reader
    category: mind
    tier: 2
    requirements:
      - {task: reading, count: 30, consecutive: true}

  - id: balanced
    name: Balanced
    category: accountability
    tier: 2
    requirements:
      - {task: workout_primary, count: 14}
      - {task: reading, count: 14}
      - {task: hydration, count: 14}

  - id: finisher
    name: Finisher
    category: accountability
    tier: 3
    requirements:
      - {task: workout_primary, count: 63, consecutive: true}
`
