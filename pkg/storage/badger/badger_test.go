package badger

import (
	"context"
	"testing"
	"time"

	"github.com/co2track/co2track/pkg/reading"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_InsertAndRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r, err := store.Insert(ctx, reading.Reading{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			CO2PPM:    400 + i,
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if r.ID == 0 {
			t.Error("Insert did not assign an ID")
		}
	}

	results, err := store.Range(ctx, base, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Timestamp.Before(results[i-1].Timestamp) {
			t.Error("Range results are not in timestamp order")
		}
	}
}

func TestBadgerStore_RangeExcludesEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	end := base.Add(5 * time.Minute)

	store.Insert(ctx, reading.Reading{Timestamp: base, CO2PPM: 400})
	store.Insert(ctx, reading.Reading{Timestamp: end, CO2PPM: 500})

	results, err := store.Range(ctx, base, end)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 reading, got %d", len(results))
	}
	if results[0].CO2PPM != 400 {
		t.Errorf("CO2PPM = %d, want 400", results[0].CO2PPM)
	}
}

func TestBadgerStore_Bounds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b, err := store.Bounds(ctx)
	if err != nil {
		t.Fatalf("Bounds failed: %v", err)
	}
	if b.Ok {
		t.Error("Bounds.Ok = true on empty store")
	}

	oldest := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	newest := time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)
	store.Insert(ctx, reading.Reading{Timestamp: newest, CO2PPM: 500})
	store.Insert(ctx, reading.Reading{Timestamp: oldest, CO2PPM: 400})
	store.Insert(ctx, reading.Reading{Timestamp: oldest.Add(time.Hour), CO2PPM: 450})

	b, err = store.Bounds(ctx)
	if err != nil {
		t.Fatalf("Bounds failed: %v", err)
	}
	if !b.Ok {
		t.Fatal("Bounds.Ok = false, want true")
	}
	if !b.Oldest.Equal(oldest) {
		t.Errorf("Oldest = %v, want %v", b.Oldest, oldest)
	}
	if !b.Newest.Equal(newest) {
		t.Errorf("Newest = %v, want %v", b.Newest, newest)
	}
}

func TestBadgerStore_WindowStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

	store.Insert(ctx, reading.Reading{Timestamp: base.Add(3 * time.Minute), CO2PPM: 500})
	store.Insert(ctx, reading.Reading{Timestamp: base.Add(17 * time.Minute), CO2PPM: 600})
	store.Insert(ctx, reading.Reading{Timestamp: base.Add(59 * time.Minute), CO2PPM: 550})

	ws, err := store.WindowStats(ctx, base, base.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("WindowStats failed: %v", err)
	}
	if ws.Count != 3 {
		t.Errorf("Count = %d, want 3", ws.Count)
	}
	if ws.CO2Min != 500 || ws.CO2Max != 600 || ws.CO2Avg != 550.0 {
		t.Errorf("stats = %d/%d/%v, want 500/600/550.0", ws.CO2Min, ws.CO2Max, ws.CO2Avg)
	}
}

func TestBadgerStore_WindowStatsHourFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	store.Insert(ctx, reading.Reading{Timestamp: day.Add(2 * time.Hour), CO2PPM: 700})
	store.Insert(ctx, reading.Reading{Timestamp: day.Add(12 * time.Hour), CO2PPM: 400})

	ws, err := store.WindowStats(ctx, day, day.AddDate(0, 0, 1), func(hour int) bool {
		return hour >= 6 && hour < 22
	})
	if err != nil {
		t.Fatalf("WindowStats failed: %v", err)
	}
	if ws.Count != 1 || ws.CO2Avg != 400.0 {
		t.Errorf("filtered stats = %d/%v, want 1/400.0", ws.Count, ws.CO2Avg)
	}
}

func TestBadgerStore_DeleteBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		store.Insert(ctx, reading.Reading{Timestamp: base.AddDate(0, 0, i), CO2PPM: 400})
	}

	cutoff := base.AddDate(0, 0, 4)
	deleted, err := store.DeleteBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 4 {
		t.Errorf("deleted = %d, want 4", deleted)
	}

	remaining, err := store.Range(ctx, base, base.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(remaining) != 6 {
		t.Errorf("remaining = %d, want 6", len(remaining))
	}
	// The reading at the cutoff itself survives.
	if !remaining[0].Timestamp.Equal(cutoff) {
		t.Errorf("oldest surviving = %v, want %v", remaining[0].Timestamp, cutoff)
	}

	if err := store.Reclaim(ctx); err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
}

func TestBadgerStore_TemperatureRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

	temp := 21.5
	store.Insert(ctx, reading.Reading{Timestamp: ts, CO2PPM: 450, Temperature: &temp})
	store.Insert(ctx, reading.Reading{Timestamp: ts.Add(time.Minute), CO2PPM: 460})

	results, err := store.Range(ctx, ts, ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 readings, got %d", len(results))
	}
	if results[0].Temperature == nil || *results[0].Temperature != 21.5 {
		t.Errorf("Temperature = %v, want 21.5", results[0].Temperature)
	}
	if results[1].Temperature != nil {
		t.Errorf("Temperature = %v, want nil", *results[1].Temperature)
	}
}

func TestBadgerStore_SizeBytes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.SizeBytes(ctx); err != nil {
		t.Fatalf("SizeBytes failed: %v", err)
	}
}

func TestBadgerStore_ContextCancellation(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Insert(ctx, reading.Reading{CO2PPM: 400}); err == nil {
		t.Error("Insert with cancelled context should fail")
	}
	if _, err := store.Range(ctx, time.Time{}, time.Now()); err == nil {
		t.Error("Range with cancelled context should fail")
	}
}
