package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/co2track/co2track/pkg/aggregation"
	"github.com/co2track/co2track/pkg/retention"
	"github.com/co2track/co2track/pkg/scheduler"
	"github.com/co2track/co2track/pkg/server/monitor"
)

const (
	backfillMaxRetries = 3
	backfillBaseDelay  = 30 * time.Second
)

// RunInitialBackfill rebuilds all aggregates from the raw history,
// retrying with exponential backoff so a transient storage error at
// startup does not leave stale aggregates until the next restart.
func RunInitialBackfill(ctx context.Context, engine *aggregation.Engine, am *monitor.AggregationMonitor) {
	logrus.Info("Running initial backfill (raw -> minute/hourly/daily aggregates)...")

	for attempt := 0; attempt <= backfillMaxRetries; attempt++ {
		if attempt > 0 {
			delay := backfillBaseDelay * time.Duration(1<<(attempt-1))
			logrus.Infof("Retrying backfill in %v (attempt %d/%d)...", delay, attempt+1, backfillMaxRetries+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		start := time.Now()
		err := engine.Backfill(ctx)
		if err == nil {
			am.RecordSuccess()
			logrus.Infof("Initial backfill completed in %v", time.Since(start).Round(time.Millisecond))
			return
		}
		if ctx.Err() != nil {
			return
		}

		am.RecordFailure(err)
		logrus.Errorf("Backfill failed (attempt %d/%d): %v", attempt+1, backfillMaxRetries+1, err)
	}

	logrus.Errorf("Backfill failed after %d attempts, incremental passes will catch up current buckets", backfillMaxRetries+1)
}

// AggregationTask returns the recurring incremental aggregation pass.
func AggregationTask(engine *aggregation.Engine, am *monitor.AggregationMonitor) scheduler.Task {
	return func(ctx context.Context) error {
		if err := engine.RunIncremental(ctx); err != nil {
			am.RecordFailure(err)
			if status := am.Status(); status.ConsecutiveErrors > 3 {
				logrus.Errorf("ALERT: Aggregation has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
			}
			return err
		}
		am.RecordSuccess()
		return nil
	}
}

// RetentionTask returns the recurring retention pass. After a pass that
// deleted anything, the storage monitor is refreshed so usage readings
// reflect the reclaimed space.
func RetentionTask(manager *retention.Manager, cfg Config, sm *monitor.StorageMonitor) scheduler.Task {
	return func(ctx context.Context) error {
		report, err := manager.Enforce(ctx, cfg.RetentionDays, cfg.MaxSizeBytes)
		if err != nil {
			return err
		}
		if report.Deleted > 0 {
			if _, err := sm.Refresh(ctx); err != nil {
				logrus.Warnf("Failed to refresh storage usage after retention: %v", err)
			}
		}
		return nil
	}
}
