package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/co2track/co2track/pkg/aggregation"
	"github.com/co2track/co2track/pkg/calendar"
	"github.com/co2track/co2track/pkg/reading"
	"github.com/co2track/co2track/pkg/stats"
	"github.com/co2track/co2track/pkg/storage/memory"
)

// seed inserts one reading per day for the given number of days, newest
// first relative to now.
func seed(t *testing.T, store *memory.Store, now time.Time, days int) {
	t.Helper()
	for i := 0; i < days; i++ {
		_, err := store.Insert(context.Background(), reading.Reading{
			Timestamp: now.AddDate(0, 0, -i).Add(-time.Hour),
			CO2PPM:    450,
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
}

func TestEnforce_AgeBased(t *testing.T) {
	store := memory.New()
	defer store.Close()

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	seed(t, store, now, 60)

	m := New(store)
	m.SetNow(func() time.Time { return now })

	report, err := m.Enforce(context.Background(), 30, 1<<40)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}

	// Readings older than 30 days are gone, the rest survive.
	if report.Deleted != 30 {
		t.Errorf("Deleted = %d, want 30", report.Deleted)
	}
	if store.Count() != 30 {
		t.Errorf("remaining = %d, want 30", store.Count())
	}
	if report.FloorReached {
		t.Error("FloorReached = true without size pressure")
	}
}

func TestEnforce_NothingToDelete(t *testing.T) {
	store := memory.New()
	defer store.Close()

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	seed(t, store, now, 5)

	m := New(store)
	m.SetNow(func() time.Time { return now })

	report, err := m.Enforce(context.Background(), 30, 1<<40)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if report.Deleted != 0 {
		t.Errorf("Deleted = %d, want 0", report.Deleted)
	}
	if store.Count() != 5 {
		t.Errorf("remaining = %d, want 5", store.Count())
	}
}

func TestEnforce_SizePressure(t *testing.T) {
	store := memory.New()
	defer store.Close()

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	seed(t, store, now, 30)

	// 1000 bytes per reading against a 10kB budget: the pass must keep
	// tightening the cutoff until at most 10 readings remain.
	store.SizeFunc = func(count int) int64 { return int64(count) * 1000 }

	m := New(store)
	m.SetNow(func() time.Time { return now })

	report, err := m.Enforce(context.Background(), 30, 10_000)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if report.SizeBytes > 10_000 {
		t.Errorf("SizeBytes = %d, want <= 10000", report.SizeBytes)
	}
	if report.FloorReached {
		t.Error("FloorReached = true, but the budget was satisfiable above the floor")
	}
	if store.Count() != 10 {
		t.Errorf("remaining = %d, want 10", store.Count())
	}
}

func TestEnforce_FloorReached(t *testing.T) {
	store := memory.New()
	defer store.Close()

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	seed(t, store, now, 30)

	// Budget so small even one day of data exceeds it.
	store.SizeFunc = func(count int) int64 { return int64(count) * 1000 }

	m := New(store)
	m.SetNow(func() time.Time { return now })

	report, err := m.Enforce(context.Background(), 30, 500)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if !report.FloorReached {
		t.Error("FloorReached = false, want true")
	}
	// The most recent day survives regardless of budget.
	if store.Count() != 1 {
		t.Errorf("remaining = %d, want 1", store.Count())
	}
	if report.SizeBytes != 1000 {
		t.Errorf("SizeBytes = %d, want 1000", report.SizeBytes)
	}
}

func TestEnforce_ClampsRetentionBelowFloor(t *testing.T) {
	store := memory.New()
	defer store.Close()

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	seed(t, store, now, 10)

	m := New(store)
	m.SetNow(func() time.Time { return now })

	// retentionDays 0 is clamped to the one-day floor, not "delete all".
	_, err := m.Enforce(context.Background(), 0, 1<<40)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("remaining = %d, want 1", store.Count())
	}
}

func TestEnforce_AggregatesSurvive(t *testing.T) {
	store := memory.New()
	defer store.Close()

	st, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("Failed to open stats store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -45)

	if _, err := store.Insert(ctx, reading.Reading{Timestamp: old, CO2PPM: 480}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	engine := aggregation.New(store, st, calendar.NewClassifier(), []int{5}, time.UTC)
	if err := engine.Backfill(ctx); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	m := New(store)
	m.SetNow(func() time.Time { return now })
	report, err := m.Enforce(ctx, 30, 1<<40)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if report.Deleted != 1 {
		t.Fatalf("Deleted = %d, want 1", report.Deleted)
	}

	// The raw reading is gone but its aggregates remain queryable.
	day := time.Date(old.Year(), old.Month(), old.Day(), 0, 0, 0, 0, time.UTC)
	if _, found, _ := st.GetDay(ctx, day); !found {
		t.Error("daily aggregate lost after raw deletion")
	}
	hour := time.Date(old.Year(), old.Month(), old.Day(), old.Hour(), 0, 0, 0, time.UTC)
	if _, found, _ := st.GetHour(ctx, hour); !found {
		t.Error("hourly aggregate lost after raw deletion")
	}
}

func TestEnforce_Cancellation(t *testing.T) {
	store := memory.New()
	defer store.Close()

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	seed(t, store, now, 30)
	store.SizeFunc = func(count int) int64 { return int64(count) * 1000 }

	m := New(store)
	m.SetNow(func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Enforce(ctx, 30, 500); err == nil {
		t.Error("Enforce with cancelled context should fail")
	}
}
