package steps

import (
	"context"
	"errors"
	"time"
)

// ErrRangeUnsupported is returned by Sensor.QueryRange when the platform
// can't report a total for the requested range.
var ErrRangeUnsupported = errors.New("steps: range query unsupported")

// Sensor is a source of cumulative pedometer counts. Counts are
// non-decreasing within one sensor session and may restart from zero.
type Sensor interface {
	// Available reports whether step counting is possible at all.
	Available(ctx context.Context) (bool, error)
	// Subscribe delivers each new cumulative count to onReading.
	Subscribe(onReading func(count int64)) (Subscription, error)
	// QueryRange returns the platform's step total between start and end.
	QueryRange(ctx context.Context, start, end time.Time) (int64, error)
}

// Subscription is a live sensor subscription.
type Subscription interface {
	Cancel()
}
