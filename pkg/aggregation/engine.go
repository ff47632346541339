// Package aggregation rolls raw readings up into minute, hourly, and
// daily buckets.
//
// Every aggregation call is a stateless full recompute of its target
// window: it reads the window from the raw store, summarizes it, and
// fully replaces the bucket row. Re-running any window with unchanged
// raw data produces an identical row, which is what makes retries and
// backfills safe.
package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/co2track/co2track/pkg/calendar"
	"github.com/co2track/co2track/pkg/reading"
	"github.com/co2track/co2track/pkg/stats"
	"github.com/co2track/co2track/pkg/storage"
)

// Engine computes windowed rollups from the raw store and upserts them
// into the aggregate store.
type Engine struct {
	raw        storage.RawStore
	stats      *stats.Store
	classifier calendar.Classifier
	widths     []int
	loc        *time.Location

	// now is overridable in tests.
	now func() time.Time
}

// New creates an aggregation engine. widths are the minute-bucket
// widths to maintain; loc is the wall clock used for bucket alignment
// (nil = local time).
func New(raw storage.RawStore, st *stats.Store, classifier calendar.Classifier, widths []int, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		raw:        raw,
		stats:      st,
		classifier: classifier,
		widths:     widths,
		loc:        loc,
		now:        time.Now,
	}
}

// AggregateMinute recomputes the minute bucket [start, start+width).
// Returns false when the window holds no readings; no row is written in
// that case, so an absent bucket stays distinguishable from a bucket of
// zeros.
func (e *Engine) AggregateMinute(ctx context.Context, start time.Time, width int) (bool, error) {
	end := start.Add(time.Duration(width) * time.Minute)

	ws, err := e.raw.WindowStats(ctx, start, end, nil)
	if err != nil {
		return false, fmt.Errorf("minute window %s/%dm: %w", start.Format(stats.TimeLayout), width, err)
	}
	if ws.Count == 0 {
		return false, nil
	}

	b := stats.MinuteBucket{
		IntervalStart: start,
		Width:         width,
		CO2Min:        ws.CO2Min,
		CO2Max:        ws.CO2Max,
		CO2Avg:        ws.CO2Avg,
		CO2Count:      ws.Count,
	}
	b.TempMin, b.TempMax, b.TempAvg = tempFields(ws)

	if err := e.stats.UpsertMinute(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}

// AggregateHour recomputes the hourly bucket [start, start+1h) and tags
// it with calendar attributes derived from start.
func (e *Engine) AggregateHour(ctx context.Context, start time.Time) (bool, error) {
	end := start.Add(time.Hour)

	ws, err := e.raw.WindowStats(ctx, start, end, nil)
	if err != nil {
		return false, fmt.Errorf("hour window %s: %w", start.Format(stats.TimeLayout), err)
	}
	if ws.Count == 0 {
		return false, nil
	}

	tags := e.classifier.Classify(start)
	b := stats.HourBucket{
		HourStart: start,
		CO2Min:    ws.CO2Min,
		CO2Max:    ws.CO2Max,
		CO2Avg:    ws.CO2Avg,
		CO2Count:  ws.Count,
		IsWorkday: tags.IsWorkday,
		IsDaytime: tags.IsDaytime,
		HourOfDay: tags.HourOfDay,
		DayOfWeek: tags.DayOfWeek,
	}
	b.TempMin, b.TempMax, b.TempAvg = tempFields(ws)

	if err := e.stats.UpsertHour(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}

// AggregateDay recomputes the daily bucket [date 00:00, date+1d 00:00)
// plus the daytime and night sub-window averages. Night wraps past
// midnight: it is everything outside the daytime hour range.
func (e *Engine) AggregateDay(ctx context.Context, date time.Time) (bool, error) {
	start := e.FloorDay(date)
	end := start.AddDate(0, 0, 1)

	full, err := e.raw.WindowStats(ctx, start, end, nil)
	if err != nil {
		return false, fmt.Errorf("day window %s: %w", start.Format(stats.DateLayout), err)
	}
	if full.Count == 0 {
		return false, nil
	}

	day, err := e.raw.WindowStats(ctx, start, end, e.classifier.IsDaytimeHour)
	if err != nil {
		return false, fmt.Errorf("daytime window %s: %w", start.Format(stats.DateLayout), err)
	}
	night, err := e.raw.WindowStats(ctx, start, end, func(hour int) bool {
		return !e.classifier.IsDaytimeHour(hour)
	})
	if err != nil {
		return false, fmt.Errorf("night window %s: %w", start.Format(stats.DateLayout), err)
	}

	b := stats.DayBucket{
		Date:             start,
		CO2Min:           full.CO2Min,
		CO2Max:           full.CO2Max,
		CO2Avg:           full.CO2Avg,
		MeasurementCount: full.Count,
		IsWeekend:        e.classifier.Classify(start).IsWeekend,
	}
	b.TempMin, b.TempMax, b.TempAvg = tempFields(full)
	if day.Count > 0 {
		v := day.CO2Avg
		b.CO2DayAvg = &v
	}
	if night.Count > 0 {
		v := night.CO2Avg
		b.CO2NightAvg = &v
	}

	if err := e.stats.UpsertDay(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}

// Backfill rebuilds every aggregate from the full raw history. It is
// re-runnable at any time: with unchanged readings it rewrites the same
// rows. Cancellation is honored between buckets, never inside one.
func (e *Engine) Backfill(ctx context.Context) error {
	bounds, err := e.raw.Bounds(ctx)
	if err != nil {
		return fmt.Errorf("backfill bounds: %w", err)
	}
	if !bounds.Ok {
		logrus.Info("Backfill: no readings to aggregate")
		return nil
	}

	oldest := bounds.Oldest.In(e.loc)
	newest := bounds.Newest.In(e.loc)

	for _, width := range e.widths {
		var produced int
		step := time.Duration(width) * time.Minute
		for cur := e.FloorMinute(oldest, width); !cur.After(newest); cur = cur.Add(step) {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := e.AggregateMinute(ctx, cur, width)
			if err != nil {
				return err
			}
			if ok {
				produced++
			}
		}
		logrus.Infof("Backfill: aggregated %d %d-minute intervals", produced, width)
	}

	var hours int
	for cur := e.FloorHour(oldest); !cur.After(newest); cur = cur.Add(time.Hour) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := e.AggregateHour(ctx, cur)
		if err != nil {
			return err
		}
		if ok {
			hours++
		}
	}
	logrus.Infof("Backfill: aggregated %d hours", hours)

	var days int
	lastDay := e.FloorDay(newest)
	for cur := e.FloorDay(oldest); !cur.After(lastDay); cur = cur.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := e.AggregateDay(ctx, cur)
		if err != nil {
			return err
		}
		if ok {
			days++
		}
	}
	logrus.Infof("Backfill: aggregated %d days", days)
	return nil
}

// RunIncremental recomputes the current and immediately preceding
// bucket at every resolution, absorbing readings that arrived after the
// previous pass. Data landing more than one bucket late is only
// repaired by Backfill.
func (e *Engine) RunIncremental(ctx context.Context) error {
	now := e.now().In(e.loc)

	for _, width := range e.widths {
		cur := e.FloorMinute(now, width)
		prev := cur.Add(-time.Duration(width) * time.Minute)
		for _, start := range []time.Time{cur, prev} {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := e.AggregateMinute(ctx, start, width); err != nil {
				return err
			}
		}
	}

	curHour := e.FloorHour(now)
	for _, start := range []time.Time{curHour, curHour.Add(-time.Hour)} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.AggregateHour(ctx, start); err != nil {
			return err
		}
	}

	today := e.FloorDay(now)
	for _, date := range []time.Time{today, today.AddDate(0, 0, -1)} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.AggregateDay(ctx, date); err != nil {
			return err
		}
	}
	return nil
}

// FloorMinute rounds t down to the containing width-minute boundary.
func (e *Engine) FloorMinute(t time.Time, width int) time.Time {
	t = t.In(e.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), (t.Minute()/width)*width, 0, 0, e.loc)
}

// FloorHour rounds t down to the containing hour.
func (e *Engine) FloorHour(t time.Time) time.Time {
	t = t.In(e.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, e.loc)
}

// FloorDay rounds t down to local midnight.
func (e *Engine) FloorDay(t time.Time) time.Time {
	t = t.In(e.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, e.loc)
}

// SetNow overrides the engine clock. Tests only.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

func tempFields(ws reading.WindowStats) (min, max, avg *float64) {
	if ws.TempCount == 0 {
		return nil, nil, nil
	}
	mn, mx, av := ws.TempMin, ws.TempMax, ws.TempAvg
	return &mn, &mx, &av
}
