package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/co2track/co2track/pkg/config"
	"github.com/co2track/co2track/pkg/httpx"
	"github.com/co2track/co2track/pkg/server/monitor"
	"github.com/co2track/co2track/pkg/stats"
	"github.com/co2track/co2track/pkg/storage"
)

var startTime = time.Now()

// Handler serves the read-side API over the raw and aggregate stores.
type Handler struct {
	raw    storage.RawStore
	stats  *stats.Store
	loc    *time.Location
	widths []int
}

// NewHandler creates the query handler. loc is the wall clock used to
// interpret date-only parameters (nil = local time); widths are the
// configured minute-bucket widths (nil = defaults).
func NewHandler(raw storage.RawStore, st *stats.Store, loc *time.Location, widths []int) *Handler {
	if loc == nil {
		loc = time.Local
	}
	if widths == nil {
		widths = config.MinuteWidths
	}
	return &Handler{raw: raw, stats: st, loc: loc, widths: widths}
}

// HandleReadings returns raw readings in [start, end). Defaults to the
// last hour.
func (h *Handler) HandleReadings(w http.ResponseWriter, r *http.Request) {
	end, ok := h.timeParam(w, r, "end", time.Now())
	if !ok {
		return
	}
	start, ok := h.timeParam(w, r, "start", end.Add(-time.Hour))
	if !ok {
		return
	}
	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	readings, err := h.raw.Range(ctx, start, end)
	if err != nil {
		logrus.Errorf("Failed to query readings: %v", err)
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"readings": readings,
		"count":    len(readings),
	})
}

// HandleWindowStats computes statistics over an arbitrary raw window,
// bypassing the bucket grid. Defaults to the last hour.
func (h *Handler) HandleWindowStats(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.rangeParams(w, r, time.Hour)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	ws, err := h.raw.WindowStats(ctx, start, end, nil)
	if err != nil {
		logrus.Errorf("Failed to compute window stats: %v", err)
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"start": start,
		"end":   end,
		"stats": ws,
	})
}

// HandleMinuteStats returns minute buckets for one width. Defaults to
// the last 24 hours.
func (h *Handler) HandleMinuteStats(w http.ResponseWriter, r *http.Request) {
	width := h.widths[0]
	if raw := r.URL.Query().Get("width"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || !h.validWidth(parsed) {
			httpx.RespondErrorString(w, http.StatusBadRequest, "width must be a configured minute width")
			return
		}
		width = parsed
	}

	start, end, ok := h.rangeParams(w, r, 24*time.Hour)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	buckets, err := h.stats.MinuteRange(ctx, start, end, width)
	if err != nil {
		logrus.Errorf("Failed to query minute stats: %v", err)
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"interval_minutes": width,
		"buckets":          buckets,
		"count":            len(buckets),
	})
}

// HandleHourlyStats returns hourly buckets. Defaults to the last 7 days.
func (h *Handler) HandleHourlyStats(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.rangeParams(w, r, 7*24*time.Hour)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	buckets, err := h.stats.HourRange(ctx, start, end)
	if err != nil {
		logrus.Errorf("Failed to query hourly stats: %v", err)
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"buckets": buckets,
		"count":   len(buckets),
	})
}

// HandleDailyStats returns daily buckets. Defaults to the last 30 days.
func (h *Handler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.rangeParams(w, r, 30*24*time.Hour)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	buckets, err := h.stats.DayRange(ctx, start, end)
	if err != nil {
		logrus.Errorf("Failed to query daily stats: %v", err)
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"buckets": buckets,
		"count":   len(buckets),
	})
}

// HandleHourlyPattern returns average levels by hour of day.
func (h *Handler) HandleHourlyPattern(w http.ResponseWriter, r *http.Request) {
	h.pattern(w, r, "hourly", h.stats.HourlyPattern)
}

// HandleWeeklyPattern returns average levels by day of week.
func (h *Handler) HandleWeeklyPattern(w http.ResponseWriter, r *http.Request) {
	h.pattern(w, r, "weekly", h.stats.WeeklyPattern)
}

// HandleDayNightPattern returns the daytime vs night comparison.
func (h *Handler) HandleDayNightPattern(w http.ResponseWriter, r *http.Request) {
	h.pattern(w, r, "day_night", h.stats.DayNightComparison)
}

// HandleWorkdayPattern returns the workday vs weekend comparison.
func (h *Handler) HandleWorkdayPattern(w http.ResponseWriter, r *http.Request) {
	h.pattern(w, r, "workday_weekend", h.stats.WorkdayWeekendComparison)
}

func (h *Handler) pattern(w http.ResponseWriter, r *http.Request, name string,
	query func(ctx context.Context) ([]stats.PatternEntry, error)) {

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	entries, err := query(ctx)
	if err != nil {
		logrus.Errorf("Failed to query %s pattern: %v", name, err)
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"pattern": name,
		"entries": entries,
	})
}

// StorageUsage is the GET /v1/storage response.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HandleStorageUsage returns current raw store usage against the budget.
func HandleStorageUsage(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := sm.GetUsage(r.Context())
		if err != nil {
			logrus.Errorf("Failed to calculate storage usage: %v", err)
			httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to calculate storage")
			return
		}
		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  sm.GetLimit(),
		})
	}
}

// HandleHealth reports service liveness and background job health.
func HandleHealth(am *monitor.AggregationMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := am.Status()

		// The service stays "healthy" while aggregation has not run yet;
		// a degraded job only flips the flag after repeated failures.
		healthy := status.ConsecutiveErrors <= 3
		overall := "healthy"
		code := http.StatusOK
		if !healthy {
			overall = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, code, map[string]interface{}{
			"status":      overall,
			"uptime":      time.Since(startTime).String(),
			"aggregation": status,
		})
	}
}

// timeParam parses an RFC 3339 query parameter, falling back to the
// given default when absent.
func (h *Handler) timeParam(w http.ResponseWriter, r *http.Request, name string, def time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def.In(h.loc), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, name+" must be RFC 3339")
		return time.Time{}, false
	}
	return t.In(h.loc), true
}

// rangeParams parses start/end with a default span ending now.
func (h *Handler) rangeParams(w http.ResponseWriter, r *http.Request, defaultSpan time.Duration) (start, end time.Time, ok bool) {
	end, ok = h.timeParam(w, r, "end", time.Now())
	if !ok {
		return
	}
	start, ok = h.timeParam(w, r, "start", end.Add(-defaultSpan))
	if !ok {
		return
	}
	if start.After(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must not be after end")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *Handler) validWidth(width int) bool {
	for _, w := range h.widths {
		if w == width {
			return true
		}
	}
	return false
}
