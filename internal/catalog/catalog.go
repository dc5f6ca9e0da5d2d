// Package catalog holds the static workout plans, one 6-day rotation per
// (gender, level) pair.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/claude/fitcycle/internal/datekey"
	"github.com/claude/fitcycle/internal/models"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// ErrUnknownPlan is returned by Plan for a gender/level with no plan.
var ErrUnknownPlan = errors.New("catalog: unknown plan")

// RestDayTitle is the title shown on the rest day.
const RestDayTitle = "Rest Day"

// Exercise is one entry of a workout day.
type Exercise struct {
	Name         string `yaml:"name" json:"name"`
	Sets         int    `yaml:"sets" json:"sets"`
	Reps         string `yaml:"reps" json:"reps"`
	TargetMuscle string `yaml:"target" json:"target_muscle"`
}

// WorkoutDay is one slot of the rotation.
type WorkoutDay struct {
	DayIndex  int        `yaml:"day" json:"day_index"`
	Title     string     `yaml:"title" json:"title"`
	Exercises []Exercise `yaml:"exercises" json:"exercises"`
}

// RestDay returns the exercise-free rest day.
func RestDay() WorkoutDay {
	return WorkoutDay{DayIndex: datekey.RestDay, Title: RestDayTitle, Exercises: []Exercise{}}
}

type planFile struct {
	Plans []struct {
		Gender string       `yaml:"gender"`
		Level  int          `yaml:"level"`
		Days   []WorkoutDay `yaml:"days"`
	} `yaml:"plans"`
}

type planKey struct {
	gender string
	level  int
}

// Catalog is an immutable set of plans.
type Catalog struct {
	plans map[planKey][]WorkoutDay
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	c, err := Parse(embeddedCatalog)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	return c, nil
}

// Load reads a catalog from a YAML file. An empty path selects the embedded
// catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML. Every plan must list exactly
// six days numbered 1..6.
func Parse(data []byte) (*Catalog, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("catalog has no plans")
	}

	c := &Catalog{plans: make(map[planKey][]WorkoutDay, len(f.Plans))}
	for _, p := range f.Plans {
		key := planKey{gender: strings.ToLower(p.Gender), level: p.Level}
		if !models.ValidGender(key.gender) || !models.ValidLevel(key.level) {
			return nil, fmt.Errorf("plan %s/%d: invalid gender or level", p.Gender, p.Level)
		}
		if _, dup := c.plans[key]; dup {
			return nil, fmt.Errorf("plan %s/%d: defined twice", key.gender, key.level)
		}
		days, err := orderDays(p.Days)
		if err != nil {
			return nil, fmt.Errorf("plan %s/%d: %w", key.gender, key.level, err)
		}
		c.plans[key] = days
	}
	return c, nil
}

func orderDays(in []WorkoutDay) ([]WorkoutDay, error) {
	if len(in) != datekey.RotationLength {
		return nil, fmt.Errorf("%d days, want %d", len(in), datekey.RotationLength)
	}
	out := make([]WorkoutDay, datekey.RotationLength)
	seen := make([]bool, datekey.RotationLength)
	for _, d := range in {
		if d.DayIndex < 1 || d.DayIndex > datekey.RotationLength {
			return nil, fmt.Errorf("day index %d out of range", d.DayIndex)
		}
		if seen[d.DayIndex-1] {
			return nil, fmt.Errorf("day %d listed twice", d.DayIndex)
		}
		seen[d.DayIndex-1] = true

		names := map[string]bool{}
		for _, ex := range d.Exercises {
			if ex.Name == "" {
				return nil, fmt.Errorf("day %d: exercise without a name", d.DayIndex)
			}
			if names[ex.Name] {
				return nil, fmt.Errorf("day %d: exercise %q listed twice", d.DayIndex, ex.Name)
			}
			names[ex.Name] = true
		}
		if d.Exercises == nil {
			d.Exercises = []Exercise{}
		}
		out[d.DayIndex-1] = d
	}
	return out, nil
}

// Plan returns the six rotation days for gender and level, ordered by
// DayIndex. The returned slice is a copy.
func (c *Catalog) Plan(gender string, level int) ([]WorkoutDay, error) {
	days, ok := c.plans[planKey{gender: strings.ToLower(gender), level: level}]
	if !ok {
		return nil, fmt.Errorf("%s level %d: %w", gender, level, ErrUnknownPlan)
	}
	out := make([]WorkoutDay, len(days))
	for i, d := range days {
		d.Exercises = append([]Exercise{}, d.Exercises...)
		out[i] = d
	}
	return out, nil
}
