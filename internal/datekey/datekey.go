// Package datekey holds the local-date helpers shared by both engines:
// YYYY-MM-DD keys, calendar-day arithmetic and the rotation formula.
package datekey

import (
	"fmt"
	"time"
)

// Layout is the format of every persisted date key.
const Layout = "2006-01-02"

// RotationLength is the number of numbered workout slots before the rest day.
const RotationLength = 6

// RestDay is the sentinel day number of the rest day.
const RestDay = 0

// Key formats t as a local YYYY-MM-DD key in t's own location.
func Key(t time.Time) string {
	return t.Format(Layout)
}

// Parse reads a YYYY-MM-DD key as local midnight in loc.
func Parse(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date key %q: %w", key, err)
	}
	return t, nil
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddDays moves t by n calendar days, keeping the wall-clock time.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DaysBetween counts calendar days from a to b (negative if b is before a).
// Both dates are compared by their local Y/M/D, so DST shifts don't skew the count.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// RotationDay resolves the rotation slot for date given the weekday
// (0 = Sunday) the rotation starts on. It returns 1..6 for workout days and
// RestDay for the one rest day in every 7-day window.
func RotationDay(date time.Time, startDayOfWeek int) int {
	daysFromStart := mod(int(date.Weekday())-startDayOfWeek, 7)
	if daysFromStart >= RotationLength {
		return RestDay
	}
	return daysFromStart + 1
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}
