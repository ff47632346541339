// Package memory implements an in-memory raw store. Data is lost on
// restart. Useful for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/co2track/co2track/pkg/reading"
	"github.com/co2track/co2track/pkg/storage"
)

// bytesPerReading is a rough footprint estimate so retention logic can
// be exercised without a real disk.
const bytesPerReading = 64

// Store keeps readings in a sorted slice guarded by a RWMutex.
type Store struct {
	mu       sync.RWMutex
	readings []reading.Reading
	nextID   int64

	// SizeFunc overrides SizeBytes when set (used by retention tests
	// to simulate size pressure).
	SizeFunc func(count int) int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		readings: make([]reading.Reading, 0, 1024),
		nextID:   1,
	}
}

// Insert stores a reading, assigning the next ID.
func (s *Store) Insert(ctx context.Context, r reading.Reading) (reading.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.Source == "" {
		r.Source = reading.DefaultSource
	}
	r.ID = s.nextID
	s.nextID++

	s.readings = append(s.readings, r)
	// Keep timestamp order for Range; out-of-order arrivals are rare
	// but allowed.
	if n := len(s.readings); n > 1 && s.readings[n-2].Timestamp.After(r.Timestamp) {
		sort.SliceStable(s.readings, func(i, j int) bool {
			return s.readings[i].Timestamp.Before(s.readings[j].Timestamp)
		})
	}
	return r, nil
}

// Range returns readings in [start, end) in timestamp order.
func (s *Store) Range(ctx context.Context, start, end time.Time) ([]reading.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []reading.Reading
	for _, r := range s.readings {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// Bounds returns the oldest and newest reading timestamps.
func (s *Store) Bounds(ctx context.Context) (storage.Bounds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.readings) == 0 {
		return storage.Bounds{}, nil
	}
	b := storage.Bounds{
		Oldest: s.readings[0].Timestamp,
		Newest: s.readings[0].Timestamp,
		Ok:     true,
	}
	for _, r := range s.readings[1:] {
		if r.Timestamp.Before(b.Oldest) {
			b.Oldest = r.Timestamp
		}
		if r.Timestamp.After(b.Newest) {
			b.Newest = r.Timestamp
		}
	}
	return b, nil
}

// WindowStats computes stats over [start, end) for readings accepted by
// filter.
func (s *Store) WindowStats(ctx context.Context, start, end time.Time, filter storage.HourFilter) (reading.WindowStats, error) {
	loc := start.Location()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []reading.Reading
	for _, r := range s.readings {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		if filter != nil && !filter(r.Timestamp.In(loc).Hour()) {
			continue
		}
		matched = append(matched, r)
	}
	return reading.Summarize(matched), nil
}

// DeleteBefore removes readings older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.readings[:0]
	var deleted int64
	for _, r := range s.readings {
		if r.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.readings = kept
	return deleted, nil
}

// Reclaim is a no-op; memory is released as readings are dropped.
func (s *Store) Reclaim(ctx context.Context) error {
	return nil
}

// SizeBytes estimates the store footprint.
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.SizeFunc != nil {
		return s.SizeFunc(len(s.readings)), nil
	}
	return int64(len(s.readings)) * bytesPerReading, nil
}

// Count returns the number of stored readings.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}

var _ storage.RawStore = (*Store)(nil)
