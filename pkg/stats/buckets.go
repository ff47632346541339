package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/co2track/co2track/pkg/calendar"
)

// MinuteBucket is one aggregated minute interval (width 5, 10, or 15).
// Keyed by (interval_start, width). Temperature fields are nil when no
// reading in the interval carried a temperature.
type MinuteBucket struct {
	IntervalStart time.Time `json:"interval_start"`
	Width         int       `json:"interval_minutes"`
	CO2Min        int       `json:"co2_min"`
	CO2Max        int       `json:"co2_max"`
	CO2Avg        float64   `json:"co2_avg"`
	CO2Count      int64     `json:"co2_count"`
	TempMin       *float64  `json:"temp_min"`
	TempMax       *float64  `json:"temp_max"`
	TempAvg       *float64  `json:"temp_avg"`
}

// HourBucket is one aggregated hour, keyed by hour_start. The calendar
// tags are derived from hour_start at write time and never mutated
// independently.
type HourBucket struct {
	HourStart time.Time `json:"hour_start"`
	CO2Min    int       `json:"co2_min"`
	CO2Max    int       `json:"co2_max"`
	CO2Avg    float64   `json:"co2_avg"`
	CO2Count  int64     `json:"co2_count"`
	TempMin   *float64  `json:"temp_min"`
	TempMax   *float64  `json:"temp_max"`
	TempAvg   *float64  `json:"temp_avg"`

	IsWorkday bool `json:"is_workday"`
	IsDaytime bool `json:"is_daytime"`
	HourOfDay int  `json:"hour_of_day"`
	DayOfWeek int  `json:"day_of_week"`
}

// Tags returns the bucket's calendar tags.
func (b HourBucket) Tags() calendar.Tags {
	return calendar.Tags{
		HourOfDay: b.HourOfDay,
		DayOfWeek: b.DayOfWeek,
		IsDaytime: b.IsDaytime,
		IsWorkday: b.IsWorkday,
		IsWeekend: b.DayOfWeek >= 5,
	}
}

// DayBucket is one aggregated calendar day, keyed by date. CO2DayAvg
// covers readings in the daytime window, CO2NightAvg the complement;
// either is nil when its sub-window had no readings.
type DayBucket struct {
	Date        time.Time `json:"date"`
	CO2Min      int       `json:"co2_min"`
	CO2Max      int       `json:"co2_max"`
	CO2Avg      float64   `json:"co2_avg"`
	CO2DayAvg   *float64  `json:"co2_day_avg"`
	CO2NightAvg *float64  `json:"co2_night_avg"`
	TempMin     *float64  `json:"temp_min"`
	TempMax     *float64  `json:"temp_max"`
	TempAvg     *float64  `json:"temp_avg"`

	MeasurementCount int64 `json:"measurement_count"`
	IsWeekend        bool  `json:"is_weekend"`
}

// The upserts below are full replaces: every non-key column is
// rewritten on conflict, never merged. Re-running aggregation for an
// unchanged window therefore stores an identical row.

// UpsertMinute inserts or fully replaces a minute bucket.
func (s *Store) UpsertMinute(ctx context.Context, b MinuteBucket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO minute_stats
			(interval_start, interval_minutes, co2_min, co2_max, co2_avg, co2_count,
			 temp_min, temp_max, temp_avg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(interval_start, interval_minutes) DO UPDATE SET
			co2_min = excluded.co2_min,
			co2_max = excluded.co2_max,
			co2_avg = excluded.co2_avg,
			co2_count = excluded.co2_count,
			temp_min = excluded.temp_min,
			temp_max = excluded.temp_max,
			temp_avg = excluded.temp_avg`,
		b.IntervalStart.Format(TimeLayout), b.Width,
		b.CO2Min, b.CO2Max, b.CO2Avg, b.CO2Count,
		b.TempMin, b.TempMax, b.TempAvg)
	if err != nil {
		return fmt.Errorf("failed to upsert minute bucket: %w", err)
	}
	return nil
}

// UpsertHour inserts or fully replaces an hourly bucket.
func (s *Store) UpsertHour(ctx context.Context, b HourBucket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hourly_stats
			(hour_start, co2_min, co2_max, co2_avg, co2_count,
			 temp_min, temp_max, temp_avg, is_workday, is_daytime,
			 hour_of_day, day_of_week)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hour_start) DO UPDATE SET
			co2_min = excluded.co2_min,
			co2_max = excluded.co2_max,
			co2_avg = excluded.co2_avg,
			co2_count = excluded.co2_count,
			temp_min = excluded.temp_min,
			temp_max = excluded.temp_max,
			temp_avg = excluded.temp_avg,
			is_workday = excluded.is_workday,
			is_daytime = excluded.is_daytime,
			hour_of_day = excluded.hour_of_day,
			day_of_week = excluded.day_of_week`,
		b.HourStart.Format(TimeLayout),
		b.CO2Min, b.CO2Max, b.CO2Avg, b.CO2Count,
		b.TempMin, b.TempMax, b.TempAvg,
		b.IsWorkday, b.IsDaytime, b.HourOfDay, b.DayOfWeek)
	if err != nil {
		return fmt.Errorf("failed to upsert hour bucket: %w", err)
	}
	return nil
}

// UpsertDay inserts or fully replaces a daily bucket.
func (s *Store) UpsertDay(ctx context.Context, b DayBucket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats
			(date, co2_min, co2_max, co2_avg, co2_day_avg, co2_night_avg,
			 temp_min, temp_max, temp_avg, measurement_count, is_weekend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			co2_min = excluded.co2_min,
			co2_max = excluded.co2_max,
			co2_avg = excluded.co2_avg,
			co2_day_avg = excluded.co2_day_avg,
			co2_night_avg = excluded.co2_night_avg,
			temp_min = excluded.temp_min,
			temp_max = excluded.temp_max,
			temp_avg = excluded.temp_avg,
			measurement_count = excluded.measurement_count,
			is_weekend = excluded.is_weekend`,
		b.Date.Format(DateLayout),
		b.CO2Min, b.CO2Max, b.CO2Avg, b.CO2DayAvg, b.CO2NightAvg,
		b.TempMin, b.TempMax, b.TempAvg,
		b.MeasurementCount, b.IsWeekend)
	if err != nil {
		return fmt.Errorf("failed to upsert day bucket: %w", err)
	}
	return nil
}

// MinuteRange returns minute buckets of the given width with
// interval_start in [start, end], ordered by interval_start.
func (s *Store) MinuteRange(ctx context.Context, start, end time.Time, width int) ([]MinuteBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT interval_start, interval_minutes, co2_min, co2_max, co2_avg, co2_count,
		       temp_min, temp_max, temp_avg
		FROM minute_stats
		WHERE interval_start BETWEEN ? AND ? AND interval_minutes = ?
		ORDER BY interval_start`,
		start.Format(TimeLayout), end.Format(TimeLayout), width)
	if err != nil {
		return nil, fmt.Errorf("failed to query minute buckets: %w", err)
	}
	defer rows.Close()

	var buckets []MinuteBucket
	for rows.Next() {
		b, err := scanMinute(rows, start.Location())
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// GetMinute fetches a single minute bucket. The second return value is
// false when the bucket is absent (no readings in that interval).
func (s *Store) GetMinute(ctx context.Context, intervalStart time.Time, width int) (MinuteBucket, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT interval_start, interval_minutes, co2_min, co2_max, co2_avg, co2_count,
		       temp_min, temp_max, temp_avg
		FROM minute_stats
		WHERE interval_start = ? AND interval_minutes = ?`,
		intervalStart.Format(TimeLayout), width)

	b, err := scanMinute(row, intervalStart.Location())
	if err == sql.ErrNoRows {
		return MinuteBucket{}, false, nil
	}
	if err != nil {
		return MinuteBucket{}, false, err
	}
	return b, true, nil
}

// HourRange returns hourly buckets with hour_start in [start, end],
// ordered by hour_start.
func (s *Store) HourRange(ctx context.Context, start, end time.Time) ([]HourBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hour_start, co2_min, co2_max, co2_avg, co2_count,
		       temp_min, temp_max, temp_avg, is_workday, is_daytime,
		       hour_of_day, day_of_week
		FROM hourly_stats
		WHERE hour_start BETWEEN ? AND ?
		ORDER BY hour_start`,
		start.Format(TimeLayout), end.Format(TimeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query hour buckets: %w", err)
	}
	defer rows.Close()

	var buckets []HourBucket
	for rows.Next() {
		b, err := scanHour(rows, start.Location())
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// GetHour fetches a single hourly bucket; false when absent.
func (s *Store) GetHour(ctx context.Context, hourStart time.Time) (HourBucket, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hour_start, co2_min, co2_max, co2_avg, co2_count,
		       temp_min, temp_max, temp_avg, is_workday, is_daytime,
		       hour_of_day, day_of_week
		FROM hourly_stats
		WHERE hour_start = ?`,
		hourStart.Format(TimeLayout))

	b, err := scanHour(row, hourStart.Location())
	if err == sql.ErrNoRows {
		return HourBucket{}, false, nil
	}
	if err != nil {
		return HourBucket{}, false, err
	}
	return b, true, nil
}

// DayRange returns daily buckets with date in [start, end], ordered by
// date.
func (s *Store) DayRange(ctx context.Context, start, end time.Time) ([]DayBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, co2_min, co2_max, co2_avg, co2_day_avg, co2_night_avg,
		       temp_min, temp_max, temp_avg, measurement_count, is_weekend
		FROM daily_stats
		WHERE date BETWEEN ? AND ?
		ORDER BY date`,
		start.Format(DateLayout), end.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query day buckets: %w", err)
	}
	defer rows.Close()

	var buckets []DayBucket
	for rows.Next() {
		b, err := scanDay(rows, start.Location())
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// GetDay fetches a single daily bucket; false when absent.
func (s *Store) GetDay(ctx context.Context, date time.Time) (DayBucket, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT date, co2_min, co2_max, co2_avg, co2_day_avg, co2_night_avg,
		       temp_min, temp_max, temp_avg, measurement_count, is_weekend
		FROM daily_stats
		WHERE date = ?`,
		date.Format(DateLayout))

	b, err := scanDay(row, date.Location())
	if err == sql.ErrNoRows {
		return DayBucket{}, false, nil
	}
	if err != nil {
		return DayBucket{}, false, err
	}
	return b, true, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMinute(sc scanner, loc *time.Location) (MinuteBucket, error) {
	var b MinuteBucket
	var start string
	var tempMin, tempMax, tempAvg sql.NullFloat64

	err := sc.Scan(&start, &b.Width, &b.CO2Min, &b.CO2Max, &b.CO2Avg, &b.CO2Count,
		&tempMin, &tempMax, &tempAvg)
	if err != nil {
		return MinuteBucket{}, err
	}

	b.IntervalStart, err = time.ParseInLocation(TimeLayout, start, loc)
	if err != nil {
		return MinuteBucket{}, fmt.Errorf("bad interval_start %q: %w", start, err)
	}
	b.TempMin = nullable(tempMin)
	b.TempMax = nullable(tempMax)
	b.TempAvg = nullable(tempAvg)
	return b, nil
}

func scanHour(sc scanner, loc *time.Location) (HourBucket, error) {
	var b HourBucket
	var start string
	var tempMin, tempMax, tempAvg sql.NullFloat64

	err := sc.Scan(&start, &b.CO2Min, &b.CO2Max, &b.CO2Avg, &b.CO2Count,
		&tempMin, &tempMax, &tempAvg,
		&b.IsWorkday, &b.IsDaytime, &b.HourOfDay, &b.DayOfWeek)
	if err != nil {
		return HourBucket{}, err
	}

	b.HourStart, err = time.ParseInLocation(TimeLayout, start, loc)
	if err != nil {
		return HourBucket{}, fmt.Errorf("bad hour_start %q: %w", start, err)
	}
	b.TempMin = nullable(tempMin)
	b.TempMax = nullable(tempMax)
	b.TempAvg = nullable(tempAvg)
	return b, nil
}

func scanDay(sc scanner, loc *time.Location) (DayBucket, error) {
	var b DayBucket
	var date string
	var dayAvg, nightAvg, tempMin, tempMax, tempAvg sql.NullFloat64

	err := sc.Scan(&date, &b.CO2Min, &b.CO2Max, &b.CO2Avg, &dayAvg, &nightAvg,
		&tempMin, &tempMax, &tempAvg, &b.MeasurementCount, &b.IsWeekend)
	if err != nil {
		return DayBucket{}, err
	}

	b.Date, err = time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return DayBucket{}, fmt.Errorf("bad date %q: %w", date, err)
	}
	b.CO2DayAvg = nullable(dayAvg)
	b.CO2NightAvg = nullable(nightAvg)
	b.TempMin = nullable(tempMin)
	b.TempMax = nullable(tempMax)
	b.TempAvg = nullable(tempAvg)
	return b, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
