package storage

import (
	"context"
	"time"

	"github.com/co2track/co2track/pkg/reading"
)

// HourFilter selects readings by local hour of day. A nil filter
// accepts every reading. The hour is evaluated in the location of the
// query window's start time.
type HourFilter func(hour int) bool

// RawStore is the append-only ledger of sensor readings.
// Implementations: badger (production), memory (testing).
//
// All windows are half-open [start, end): a reading timestamped exactly
// at end belongs to the next window.
type RawStore interface {
	// Insert stores a reading and returns it with its assigned ID.
	// A zero timestamp is replaced with the current time.
	Insert(ctx context.Context, r reading.Reading) (reading.Reading, error)

	// Range returns readings in [start, end) in timestamp order.
	Range(ctx context.Context, start, end time.Time) ([]reading.Reading, error)

	// Bounds returns the oldest and newest reading timestamps.
	Bounds(ctx context.Context) (Bounds, error)

	// WindowStats computes min/max/avg/count over [start, end) for
	// readings accepted by filter (nil = all).
	WindowStats(ctx context.Context, start, end time.Time, filter HourFilter) (reading.WindowStats, error)

	// DeleteBefore removes readings older than cutoff and returns how
	// many were deleted. Aggregate stores are unaffected.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Reclaim releases disk space held by deleted readings. It may be
	// a no-op for backends that reclaim eagerly.
	Reclaim(ctx context.Context) error

	// SizeBytes reports the approximate on-disk footprint.
	SizeBytes(ctx context.Context) (int64, error)

	// Close cleanly shuts down the store.
	Close() error
}

// Bounds is the raw data's covered time range. Ok is false when the
// store is empty.
type Bounds struct {
	Oldest time.Time
	Newest time.Time
	Ok     bool
}
