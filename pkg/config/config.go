// Package config holds compile-time defaults. Runtime overrides come
// from CO2TRACK_* environment variables, resolved in pkg/server.
package config

import "time"

// Server defaults
const (
	DefaultPort    = "8080"
	DefaultDataDir = "./data/co2track"

	// Raw readings live in a badger keyspace under DataDir; aggregates
	// live in a SQLite file next to it and are never pruned.
	RawSubdir       = "raw"
	StatsDBFilename = "stats.db"
)

// Retention defaults
const (
	DefaultRetentionDays = 30
	DefaultMaxSizeGB     = 5.0

	// RetentionFloorDays bounds the progressive size-pressure loop.
	// The most recent day is never deleted, whatever the size budget.
	RetentionFloorDays = 1
)

// Scheduling cadences
const (
	DefaultAggregationInterval = 5 * time.Minute
	RetentionInterval          = 1 * time.Hour
	ReclaimDiscardRatio        = 0.5
)

// Calendar windows (local clock hours, half-open)
const (
	DaytimeStart = 6  // 06:00
	DaytimeEnd   = 22 // 22:00
	WorkdayStart = 8  // 08:00
	WorkdayEnd   = 18 // 18:00
)

// MinuteWidths are the supported minute-bucket widths.
var MinuteWidths = []int{5, 10, 15}

// Server timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

// Storage timeouts
const (
	QueryTimeout  = 30 * time.Second
	InsertTimeout = 5 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 64
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
