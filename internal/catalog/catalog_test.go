package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// TestDefaultHasEveryPlan verifies the embedded catalog covers both genders
// at all three levels with six ordered days each.
func TestDefaultHasEveryPlan(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, gender := range []string{"male", "female"} {
		for level := 1; level <= 3; level++ {
			days, err := c.Plan(gender, level)
			if err != nil {
				t.Errorf("Plan(%s, %d): %v", gender, level, err)
				continue
			}
			if len(days) != 6 {
				t.Fatalf("Plan(%s, %d) has %d days", gender, level, len(days))
			}
			for i, d := range days {
				if d.DayIndex != i+1 {
					t.Errorf("%s/%d day[%d].DayIndex = %d", gender, level, i, d.DayIndex)
				}
				if len(d.Exercises) == 0 {
					t.Errorf("%s/%d day %d has no exercises", gender, level, d.DayIndex)
				}
			}
		}
	}
}

// TestPlanUnknown verifies unknown selections wrap ErrUnknownPlan.
func TestPlanUnknown(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		gender string
		level  int
	}{
		{"male", 0},
		{"male", 4},
		{"other", 1},
		{"", 2},
	}
	for _, tt := range tests {
		if _, err := c.Plan(tt.gender, tt.level); !errors.Is(err, ErrUnknownPlan) {
			t.Errorf("Plan(%q, %d) err = %v, want ErrUnknownPlan", tt.gender, tt.level, err)
		}
	}
}

// TestPlanGenderCaseInsensitive verifies "Female" selects the female plan.
func TestPlanGenderCaseInsensitive(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Plan("Female", 2); err != nil {
		t.Errorf("Plan(Female, 2): %v", err)
	}
}

// TestPlanReturnsCopy verifies callers can't mutate the catalog.
func TestPlanReturnsCopy(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	days, _ := c.Plan("male", 1)
	original := days[0].Exercises[0].Name
	days[0].Exercises[0].Name = "changed"
	days[0].Title = "changed"

	again, _ := c.Plan("male", 1)
	if again[0].Exercises[0].Name != original || again[0].Title == "changed" {
		t.Error("Plan result aliases catalog storage")
	}
}

// TestParseRejectsBadPlans verifies structural validation of catalog YAML.
func TestParseRejectsBadPlans(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "plans: []", "no plans"},
		{"bad yaml", "plans: [", "parsing catalog"},
		{"bad level", planYAML("male", 5, 6, 1), "invalid gender or level"},
		{"bad gender", planYAML("x", 1, 6, 1), "invalid gender or level"},
		{"five days", planYAML("male", 1, 5, 1), "5 days, want 6"},
		{"index out of range", planYAML("male", 1, 6, 2), "out of range"},
		{"duplicate plan", planYAML("male", 1, 6, 1) + strings.TrimPrefix(planYAML("male", 1, 6, 1), "plans:\n"), "defined twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestParseOrdersDays verifies days listed out of order come back sorted.
func TestParseOrdersDays(t *testing.T) {
	src := `plans:
  - gender: female
    level: 1
    days:
      - {day: 6, title: F, exercises: [{name: f}]}
      - {day: 2, title: B, exercises: [{name: b}]}
      - {day: 4, title: D, exercises: [{name: d}]}
      - {day: 1, title: A, exercises: [{name: a}]}
      - {day: 5, title: E, exercises: [{name: e}]}
      - {day: 3, title: C, exercises: [{name: c}]}
`
	c, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	days, err := c.Plan("female", 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"A", "B", "C", "D", "E", "F"} {
		if days[i].Title != want {
			t.Errorf("days[%d].Title = %s, want %s", i, days[i].Title, want)
		}
	}
}

// TestLoadFile verifies a catalog override is read from disk and that an
// empty path falls back to the embedded catalog.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(planYAML("female", 3, 6, 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := c.Plan("female", 3); err != nil {
		t.Errorf("Plan(female, 3): %v", err)
	}
	if _, err := c.Plan("male", 1); !errors.Is(err, ErrUnknownPlan) {
		t.Errorf("override should only hold its own plans, err = %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(""); err != nil {
		t.Errorf("Load(\"\"): %v", err)
	}
}

// TestRestDay verifies the rest day sentinel has no exercises.
func TestRestDay(t *testing.T) {
	r := RestDay()
	if r.DayIndex != 0 || r.Title != "Rest Day" || len(r.Exercises) != 0 || r.Exercises == nil {
		t.Errorf("RestDay() = %+v", r)
	}
}

// planYAML builds a plan with n days numbered from first.
func planYAML(gender string, level, n, first int) string {
	var b strings.Builder
	b.WriteString("plans:\n")
	b.WriteString("  - gender: " + gender + "\n")
	b.WriteString("    level: " + strconv.Itoa(level) + "\n")
	b.WriteString("    days:\n")
	for i := 0; i < n; i++ {
		b.WriteString("      - {day: " + strconv.Itoa(first+i) + ", title: T, exercises: [{name: Push-ups, sets: 3, reps: \"10\"}]}\n")
	}
	return b.String()
}
