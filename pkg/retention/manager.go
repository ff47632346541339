// Package retention enforces the raw data age and size bounds.
//
// Only raw readings are ever deleted. The minute/hour/day aggregates in
// pkg/stats are the durable record and outlive the readings that
// produced them.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/co2track/co2track/pkg/config"
	"github.com/co2track/co2track/pkg/storage"
)

// Report is the outcome of one retention pass.
type Report struct {
	// Deleted is the total readings removed across all passes.
	Deleted int64 `json:"deleted_count"`

	// SizeBytes is the raw store footprint after the pass.
	SizeBytes int64 `json:"resulting_size_bytes"`

	// FloorReached is true when the store is still over budget but the
	// retained window cannot shrink below the one-day floor. The system
	// keeps running over budget rather than deleting the newest data.
	FloorReached bool `json:"floor_reached,omitempty"`
}

// Manager deletes old raw readings by age, then progressively tightens
// the cutoff under size pressure.
type Manager struct {
	raw storage.RawStore

	// now is overridable in tests.
	now func() time.Time
}

// New creates a retention manager over the raw store.
func New(raw storage.RawStore) *Manager {
	return &Manager{raw: raw, now: time.Now}
}

// Enforce deletes readings older than retentionDays, then, while the
// store is still over maxSizeBytes, decrements the cutoff one day at a
// time, reclaiming space after each deletion.
//
// Loop invariant: the cutoff never drops below config.RetentionFloorDays,
// so the loop terminates and the most recent day always survives.
func (m *Manager) Enforce(ctx context.Context, retentionDays int, maxSizeBytes int64) (Report, error) {
	if retentionDays < config.RetentionFloorDays {
		retentionDays = config.RetentionFloorDays
	}
	now := m.now()

	var report Report
	deleted, err := m.deleteAndReclaim(ctx, now, retentionDays)
	if err != nil {
		return report, err
	}
	report.Deleted += deleted

	size, err := m.raw.SizeBytes(ctx)
	if err != nil {
		return report, fmt.Errorf("retention size check: %w", err)
	}
	report.SizeBytes = size
	if size <= maxSizeBytes {
		return report, nil
	}

	for days := retentionDays - 1; size > maxSizeBytes && days >= config.RetentionFloorDays; days-- {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		deleted, err := m.deleteAndReclaim(ctx, now, days)
		if err != nil {
			return report, err
		}
		report.Deleted += deleted

		size, err = m.raw.SizeBytes(ctx)
		if err != nil {
			return report, fmt.Errorf("retention size check: %w", err)
		}
		report.SizeBytes = size
	}

	if size > maxSizeBytes {
		report.FloorReached = true
		logrus.Warnf("Retention floor reached: store is %s against a %s budget with only %d day(s) retained",
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(maxSizeBytes)), config.RetentionFloorDays)
	}
	return report, nil
}

// deleteAndReclaim removes readings older than the cutoff and releases
// the space they held.
func (m *Manager) deleteAndReclaim(ctx context.Context, now time.Time, days int) (int64, error) {
	cutoff := now.AddDate(0, 0, -days)

	deleted, err := m.raw.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention delete (%dd cutoff): %w", days, err)
	}
	if deleted == 0 {
		return 0, nil
	}

	if err := m.raw.Reclaim(ctx); err != nil {
		return deleted, fmt.Errorf("retention reclaim: %w", err)
	}
	logrus.Infof("Retention: deleted %d readings older than %d day(s)", deleted, days)
	return deleted, nil
}

// SetNow overrides the manager clock. Tests only.
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}
