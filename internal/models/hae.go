package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/claude/fitcycle/internal/datekey"
)

// StepCountMetric is the Health Auto Export metric name for step counts.
const StepCountMetric = "step_count"

// HAETime handles the Health Auto Export date format: "2006-01-02 15:04:05 -0700"
// Also handles date-only format "2006-01-02" used in aggregated exports.
type HAETime struct {
	time.Time
}

const (
	HAETimeLayout     = "2006-01-02 15:04:05 -0700"
	HAEDateOnlyLayout = "2006-01-02"
)

func (t *HAETime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return t.Parse(s)
}

func (t HAETime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(HAETimeLayout))
}

// Parse parses a HAE time string, trying full datetime first, then date-only.
func (t *HAETime) Parse(s string) error {
	parsed, err := time.Parse(HAETimeLayout, s)
	if err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err2 := time.Parse(HAEDateOnlyLayout, s)
	if err2 == nil {
		t.Time = parsed
		return nil
	}
	return fmt.Errorf("cannot parse HAE time %q: %w", s, err)
}

// ParseHAETime parses a HAE time string into a time.Time.
func ParseHAETime(s string) (time.Time, error) {
	var t HAETime
	if err := t.Parse(s); err != nil {
		return time.Time{}, err
	}
	return t.Time, nil
}

// HAEPayload is the top-level REST API JSON structure.
type HAEPayload struct {
	Data HAEData `json:"data"`
}

// HAEData contains the arrays of health data. Only metrics are read here.
type HAEData struct {
	Metrics []HAEMetric `json:"metrics"`
}

// HAEMetric is a single metric entry with name, units, and data points.
type HAEMetric struct {
	Name  string            `json:"name"`
	Units string            `json:"units"`
	Data  []json.RawMessage `json:"data"`
}

// HAEMetricDataPoint is a standard metric data point with qty.
type HAEMetricDataPoint struct {
	Date HAETime `json:"date"`
	Qty  float64 `json:"qty"`
}

// StepTotals sums every step_count data point of the payload per local date
// in loc, rounding each date's sum once. Other metrics are ignored;
// unreadable points are counted in skipped.
func StepTotals(payload *HAEPayload, loc *time.Location) (totals map[string]int64, skipped int) {
	sums := map[string]float64{}
	for _, m := range payload.Data.Metrics {
		if m.Name != StepCountMetric {
			continue
		}
		for _, raw := range m.Data {
			var dp HAEMetricDataPoint
			if err := json.Unmarshal(raw, &dp); err != nil || dp.Qty < 0 {
				skipped++
				continue
			}
			sums[datekey.Key(dp.Date.In(loc))] += dp.Qty
		}
	}
	totals = make(map[string]int64, len(sums))
	for date, sum := range sums {
		totals[date] = int64(math.Round(sum))
	}
	return totals, skipped
}
