package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestAggregationMonitor_RecordSuccess(t *testing.T) {
	am := NewAggregationMonitor(time.Hour)
	am.RecordSuccess()

	status := am.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}
}

func TestAggregationMonitor_RecordFailure(t *testing.T) {
	am := NewAggregationMonitor(time.Hour)
	am.RecordFailure(errors.New("database locked"))

	status := am.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "database locked" {
		t.Errorf("LastError = %q, want %q", status.LastError, "database locked")
	}
}

func TestAggregationMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*AggregationMonitor)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*AggregationMonitor) {},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(am *AggregationMonitor) {
				am.RecordSuccess()
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(am *AggregationMonitor) {
				am.mu.Lock()
				am.lastSuccess = time.Now().Add(-2 * time.Hour)
				am.mu.Unlock()
			},
			expected: false,
		},
		{
			name: "a few failures after success",
			setup: func(am *AggregationMonitor) {
				am.RecordSuccess()
				am.RecordFailure(errors.New("error 1"))
				am.RecordFailure(errors.New("error 2"))
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(am *AggregationMonitor) {
				am.RecordSuccess()
				am.RecordFailure(errors.New("error 1"))
				am.RecordFailure(errors.New("error 2"))
				am.RecordFailure(errors.New("error 3"))
				am.RecordFailure(errors.New("error 4"))
			},
			expected: false,
		},
		{
			name: "success resets errors",
			setup: func(am *AggregationMonitor) {
				am.RecordFailure(errors.New("error 1"))
				am.RecordFailure(errors.New("error 2"))
				am.RecordFailure(errors.New("error 3"))
				am.RecordFailure(errors.New("error 4"))
				am.RecordSuccess()
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			am := NewAggregationMonitor(time.Hour)
			tt.setup(am)
			if got := am.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}
