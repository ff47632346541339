// Package reading defines the core measurement types shared by the raw
// store, the aggregation engine, and the API layer.
package reading

import (
	"math"
	"time"
)

// DefaultSource identifies readings ingested without an explicit sensor name.
const DefaultSource = "aircontrol"

// Reading is a single timestamped sensor measurement. Readings are
// immutable after creation; only the retention manager removes them.
type Reading struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	CO2PPM    int       `json:"co2_ppm"`

	// Temperature is optional; some sensors report CO2 only.
	Temperature *float64 `json:"temperature_celsius,omitempty"`
}

// WindowStats summarizes the readings inside one half-open time window.
// Count == 0 means the window is empty and none of the other fields are
// meaningful.
type WindowStats struct {
	Count  int64   `json:"count"`
	CO2Min int     `json:"co2_min"`
	CO2Max int     `json:"co2_max"`
	CO2Avg float64 `json:"co2_avg"`

	// Temperature stats cover only readings that carried a temperature.
	TempCount int64   `json:"temp_count"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	TempAvg   float64 `json:"temp_avg"`
}

// Round1 rounds to one decimal place. Averages are rounded once, at
// aggregation time, so re-running a window yields identical rows.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Summarize computes window statistics over a set of readings.
// Averages are rounded to one decimal; min/max are exact.
func Summarize(readings []Reading) WindowStats {
	var s WindowStats
	var co2Sum int64
	var tempSum float64

	for _, r := range readings {
		if s.Count == 0 {
			s.CO2Min = r.CO2PPM
			s.CO2Max = r.CO2PPM
		}
		s.Count++
		co2Sum += int64(r.CO2PPM)
		if r.CO2PPM < s.CO2Min {
			s.CO2Min = r.CO2PPM
		}
		if r.CO2PPM > s.CO2Max {
			s.CO2Max = r.CO2PPM
		}

		if r.Temperature == nil {
			continue
		}
		t := *r.Temperature
		if s.TempCount == 0 {
			s.TempMin = t
			s.TempMax = t
		}
		s.TempCount++
		tempSum += t
		if t < s.TempMin {
			s.TempMin = t
		}
		if t > s.TempMax {
			s.TempMax = t
		}
	}

	if s.Count > 0 {
		s.CO2Avg = Round1(float64(co2Sum) / float64(s.Count))
	}
	if s.TempCount > 0 {
		s.TempAvg = Round1(tempSum / float64(s.TempCount))
	}
	return s
}
