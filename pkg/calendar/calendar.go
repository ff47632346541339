// Package calendar maps timestamps to the calendar tags stored on
// hourly and daily buckets. The mapping is a pure function of the
// timestamp: the aggregation engine relies on identical input producing
// identical output when a bucket is recomputed.
package calendar

import (
	"time"

	"github.com/co2track/co2track/pkg/config"
)

// Tags are the calendar attributes of a single timestamp.
type Tags struct {
	HourOfDay int  `json:"hour_of_day"`
	DayOfWeek int  `json:"day_of_week"` // 0 = Monday ... 6 = Sunday
	IsDaytime bool `json:"is_daytime"`
	IsWorkday bool `json:"is_workday"`
	IsWeekend bool `json:"is_weekend"`
}

// Classifier evaluates timestamps against fixed local-clock windows.
// Daytime is [DaytimeStart, DaytimeEnd); workday is Mon-Fri with the
// hour in [WorkdayStart, WorkdayEnd).
type Classifier struct {
	DaytimeStart int
	DaytimeEnd   int
	WorkdayStart int
	WorkdayEnd   int
}

// NewClassifier returns a classifier with the default windows.
func NewClassifier() Classifier {
	return Classifier{
		DaytimeStart: config.DaytimeStart,
		DaytimeEnd:   config.DaytimeEnd,
		WorkdayStart: config.WorkdayStart,
		WorkdayEnd:   config.WorkdayEnd,
	}
}

// Classify returns the calendar tags for t, evaluated in t's location.
func (c Classifier) Classify(t time.Time) Tags {
	hour := t.Hour()
	dow := weekdayIndex(t.Weekday())

	return Tags{
		HourOfDay: hour,
		DayOfWeek: dow,
		IsDaytime: hour >= c.DaytimeStart && hour < c.DaytimeEnd,
		IsWorkday: dow < 5 && hour >= c.WorkdayStart && hour < c.WorkdayEnd,
		IsWeekend: dow >= 5,
	}
}

// IsDaytimeHour reports whether a local hour falls in the daytime
// window. Night is the wrapping complement (hour >= DaytimeEnd or
// hour < DaytimeStart).
func (c Classifier) IsDaytimeHour(hour int) bool {
	return hour >= c.DaytimeStart && hour < c.DaytimeEnd
}

// weekdayIndex converts Go's Sunday-first weekday to Monday=0..Sunday=6,
// which is the convention the bucket schema stores.
func weekdayIndex(d time.Weekday) int {
	if d == time.Sunday {
		return 6
	}
	return int(d) - 1
}
