package stats

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/co2track/co2track/pkg/reading"
)

// Pattern summaries are computed as the unweighted mean of hourly
// bucket averages (AVG over co2_avg), not a count-weighted
// recomputation from raw readings. Hours with few readings weigh the
// same as dense hours; callers surfacing these numbers should say so.

var dayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// PatternEntry is one row of a group-by pattern summary.
type PatternEntry struct {
	Key         string   `json:"key"`
	CO2Avg      *float64 `json:"co2_avg"`
	TempAvg     *float64 `json:"temp_avg"`
	SampleCount int64    `json:"sample_count"`
}

// HourlyPattern returns the average CO2/temperature by hour of day
// (00..23) across all hourly buckets.
func (s *Store) HourlyPattern(ctx context.Context) ([]PatternEntry, error) {
	return s.groupPattern(ctx, `
		SELECT printf('%02d', hour_of_day), AVG(co2_avg), AVG(temp_avg), SUM(co2_count)
		FROM hourly_stats
		GROUP BY hour_of_day
		ORDER BY hour_of_day`)
}

// WeeklyPattern returns the average CO2/temperature by day of week
// (Mon..Sun) across all hourly buckets.
func (s *Store) WeeklyPattern(ctx context.Context) ([]PatternEntry, error) {
	entries, err := s.groupPattern(ctx, `
		SELECT day_of_week, AVG(co2_avg), AVG(temp_avg), SUM(co2_count)
		FROM hourly_stats
		GROUP BY day_of_week
		ORDER BY day_of_week`)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		var dow int
		if _, err := fmt.Sscanf(entries[i].Key, "%d", &dow); err == nil && dow >= 0 && dow < len(dayNames) {
			entries[i].Key = dayNames[dow]
		}
	}
	return entries, nil
}

// DayNightComparison returns the daytime vs night split across all
// hourly buckets, keyed "day" and "night".
func (s *Store) DayNightComparison(ctx context.Context) ([]PatternEntry, error) {
	return s.groupPattern(ctx, `
		SELECT CASE is_daytime WHEN 1 THEN 'day' ELSE 'night' END,
		       AVG(co2_avg), AVG(temp_avg), SUM(co2_count)
		FROM hourly_stats
		GROUP BY is_daytime
		ORDER BY is_daytime DESC`)
}

// WorkdayWeekendComparison compares workday-window hours (Mon-Fri,
// working hours) with weekend hours, keyed "workday" and "weekend".
// Hours outside either window do not contribute.
func (s *Store) WorkdayWeekendComparison(ctx context.Context) ([]PatternEntry, error) {
	workday, err := s.singlePattern(ctx, "workday", `
		SELECT AVG(co2_avg), AVG(temp_avg), SUM(co2_count)
		FROM hourly_stats
		WHERE is_workday = 1`)
	if err != nil {
		return nil, err
	}
	weekend, err := s.singlePattern(ctx, "weekend", `
		SELECT AVG(co2_avg), AVG(temp_avg), SUM(co2_count)
		FROM hourly_stats
		WHERE day_of_week >= 5`)
	if err != nil {
		return nil, err
	}
	return []PatternEntry{workday, weekend}, nil
}

func (s *Store) groupPattern(ctx context.Context, query string) ([]PatternEntry, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern: %w", err)
	}
	defer rows.Close()

	var entries []PatternEntry
	for rows.Next() {
		var e PatternEntry
		var co2Avg, tempAvg sql.NullFloat64
		var count sql.NullInt64
		if err := rows.Scan(&e.Key, &co2Avg, &tempAvg, &count); err != nil {
			return nil, err
		}
		e.CO2Avg = roundedNullable(co2Avg)
		e.TempAvg = roundedNullable(tempAvg)
		e.SampleCount = count.Int64
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) singlePattern(ctx context.Context, key, query string) (PatternEntry, error) {
	e := PatternEntry{Key: key}
	var co2Avg, tempAvg sql.NullFloat64
	var count sql.NullInt64

	err := s.db.QueryRowContext(ctx, query).Scan(&co2Avg, &tempAvg, &count)
	if err != nil && err != sql.ErrNoRows {
		return PatternEntry{}, fmt.Errorf("failed to query pattern: %w", err)
	}
	e.CO2Avg = roundedNullable(co2Avg)
	e.TempAvg = roundedNullable(tempAvg)
	e.SampleCount = count.Int64
	return e, nil
}

func roundedNullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := reading.Round1(v.Float64)
	return &f
}
