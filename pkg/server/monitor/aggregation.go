// Package monitor tracks the health of background jobs and storage
// usage for the health endpoints.
package monitor

import (
	"sync"
	"time"
)

// AggregationMonitor tracks aggregation pass health and failures.
type AggregationMonitor struct {
	mu                sync.RWMutex
	staleAfter        time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewAggregationMonitor creates a monitor. A pass that has not
// succeeded within staleAfter marks the job unhealthy.
func NewAggregationMonitor(staleAfter time.Duration) *AggregationMonitor {
	return &AggregationMonitor{staleAfter: staleAfter}
}

// RecordSuccess records a successful aggregation pass.
func (am *AggregationMonitor) RecordSuccess() {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.lastSuccess = time.Now()
	am.lastAttempt = time.Now()
	am.consecutiveErrors = 0
	am.lastError = ""
}

// RecordFailure records a failed aggregation pass.
func (am *AggregationMonitor) RecordFailure(err error) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.lastAttempt = time.Now()
	am.consecutiveErrors++
	if err != nil {
		am.lastError = err.Error()
	}
}

// IsHealthy returns true if aggregation is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - Haven't succeeded within the stale threshold
//   - More than 3 consecutive failures
func (am *AggregationMonitor) IsHealthy() bool {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.isHealthyLocked()
}

// AggregationStatus is the aggregation job section of a health check.
type AggregationStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current aggregation status for health checks.
func (am *AggregationMonitor) Status() AggregationStatus {
	am.mu.RLock()
	defer am.mu.RUnlock()

	status := AggregationStatus{
		Healthy: am.isHealthyLocked(),
	}
	if !am.lastSuccess.IsZero() {
		status.LastSuccess = am.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(am.lastSuccess).String()
	}
	if !am.lastAttempt.IsZero() {
		status.LastAttempt = am.lastAttempt.Format(time.RFC3339)
	}
	if am.consecutiveErrors > 0 {
		status.ConsecutiveErrors = am.consecutiveErrors
		status.LastError = am.lastError
	}
	return status
}

func (am *AggregationMonitor) isHealthyLocked() bool {
	if am.lastSuccess.IsZero() {
		return false
	}
	if time.Since(am.lastSuccess) > am.staleAfter {
		return false
	}
	return am.consecutiveErrors <= 3
}
