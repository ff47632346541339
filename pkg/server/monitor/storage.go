package monitor

import (
	"context"
	"sync"
	"time"
)

const storageCacheDuration = 10 * time.Second

// Sizer reports the on-disk footprint of a store.
type Sizer interface {
	SizeBytes(ctx context.Context) (int64, error)
}

// StorageMonitor tracks raw store usage with caching to avoid walking
// the data directory on every request.
type StorageMonitor struct {
	sizer         Sizer
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a storage monitor over the raw store.
func NewStorageMonitor(sizer Sizer, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		sizer:         sizer,
		maxBytes:      maxBytes,
		cacheDuration: storageCacheDuration,
	}
}

// GetUsage returns current storage usage in bytes. The value is cached
// briefly to balance accuracy with performance.
func (sm *StorageMonitor) GetUsage(ctx context.Context) (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}
	return sm.refreshLocked(ctx)
}

// Refresh drops the cache and remeasures. Called after retention frees
// space so the next usage read is not stale.
func (sm *StorageMonitor) Refresh(ctx context.Context) (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.refreshLocked(ctx)
}

func (sm *StorageMonitor) refreshLocked(ctx context.Context) (int64, error) {
	usage, err := sm.sizer.SizeBytes(ctx)
	if err != nil {
		return 0, err
	}
	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage budget in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}
