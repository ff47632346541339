package monitor

import (
	"context"
	"testing"
)

// fakeSizer counts how many times the underlying store is measured.
type fakeSizer struct {
	size  int64
	calls int
}

func (f *fakeSizer) SizeBytes(ctx context.Context) (int64, error) {
	f.calls++
	return f.size, nil
}

func TestStorageMonitor_Caching(t *testing.T) {
	sizer := &fakeSizer{size: 4096}
	sm := NewStorageMonitor(sizer, 1 << 30)
	ctx := context.Background()

	usage, err := sm.GetUsage(ctx)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if usage != 4096 {
		t.Errorf("usage = %d, want 4096", usage)
	}
	if sizer.calls != 1 {
		t.Errorf("calls = %d, want 1", sizer.calls)
	}

	// Second read within the cache window hits the cache.
	sizer.size = 8192
	usage, _ = sm.GetUsage(ctx)
	if usage != 4096 {
		t.Errorf("cached usage = %d, want 4096", usage)
	}
	if sizer.calls != 1 {
		t.Errorf("calls = %d, want 1 (cache miss)", sizer.calls)
	}
}

func TestStorageMonitor_Refresh(t *testing.T) {
	sizer := &fakeSizer{size: 4096}
	sm := NewStorageMonitor(sizer, 1 << 30)
	ctx := context.Background()

	sm.GetUsage(ctx)
	sizer.size = 1024

	usage, err := sm.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if usage != 1024 {
		t.Errorf("refreshed usage = %d, want 1024", usage)
	}

	// The refreshed value is now the cached one.
	usage, _ = sm.GetUsage(ctx)
	if usage != 1024 {
		t.Errorf("usage after refresh = %d, want 1024", usage)
	}
}

func TestStorageMonitor_GetLimit(t *testing.T) {
	sm := NewStorageMonitor(&fakeSizer{}, 5 << 30)
	if got := sm.GetLimit(); got != 5<<30 {
		t.Errorf("GetLimit() = %d, want %d", got, int64(5<<30))
	}
}
