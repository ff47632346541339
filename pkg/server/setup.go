// Package server wires storage, aggregation, retention, and the HTTP
// API into one service.
package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/co2track/co2track/pkg/aggregation"
	"github.com/co2track/co2track/pkg/calendar"
	"github.com/co2track/co2track/pkg/config"
	"github.com/co2track/co2track/pkg/ingest"
	"github.com/co2track/co2track/pkg/live"
	"github.com/co2track/co2track/pkg/retention"
	"github.com/co2track/co2track/pkg/server/monitor"
	"github.com/co2track/co2track/pkg/stats"
	"github.com/co2track/co2track/pkg/storage"
	"github.com/co2track/co2track/pkg/storage/badger"
)

// Config holds service configuration.
type Config struct {
	Port                string
	DataDir             string
	RetentionDays       int
	MaxSizeBytes        int64
	MaxMemoryMB         int64
	AggregationInterval time.Duration
	Location            *time.Location
	MinuteWidths        []int

	DaytimeStart int
	DaytimeEnd   int
	WorkdayStart int
	WorkdayEnd   int
}

// LoadConfig reads configuration from CO2TRACK_* environment variables,
// applying defaults for anything unset.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:                getEnv("PORT", config.DefaultPort),
		DataDir:             getEnv("CO2TRACK_DATA_DIR", config.DefaultDataDir),
		RetentionDays:       int(getEnvInt64("CO2TRACK_RETENTION_DAYS", config.DefaultRetentionDays)),
		MaxMemoryMB:         getEnvInt64("CO2TRACK_MAX_MEMORY_MB", 0),
		AggregationInterval: getEnvDuration("CO2TRACK_AGGREGATION_INTERVAL", config.DefaultAggregationInterval),
		Location:            time.Local,
		DaytimeStart:        int(getEnvInt64("CO2TRACK_DAYTIME_START", config.DaytimeStart)),
		DaytimeEnd:          int(getEnvInt64("CO2TRACK_DAYTIME_END", config.DaytimeEnd)),
		WorkdayStart:        int(getEnvInt64("CO2TRACK_WORKDAY_START", config.WorkdayStart)),
		WorkdayEnd:          int(getEnvInt64("CO2TRACK_WORKDAY_END", config.WorkdayEnd)),
	}

	maxSizeGB := getEnvFloat("CO2TRACK_MAX_SIZE_GB", config.DefaultMaxSizeGB)
	cfg.MaxSizeBytes = int64(maxSizeGB * 1024 * 1024 * 1024)

	widths, err := parseWidths(os.Getenv("CO2TRACK_MINUTE_WIDTHS"))
	if err != nil {
		return Config{}, err
	}
	cfg.MinuteWidths = widths

	if tz := os.Getenv("CO2TRACK_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CO2TRACK_TIMEZONE %q: %w", tz, err)
		}
		cfg.Location = loc
	}

	if cfg.RetentionDays < config.RetentionFloorDays {
		logrus.Warnf("Retention days %d below floor, using %d", cfg.RetentionDays, config.RetentionFloorDays)
		cfg.RetentionDays = config.RetentionFloorDays
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return Config{}, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

// parseWidths parses a comma-separated minute-width list. Widths must
// divide the hour so buckets stay aligned to hour boundaries.
func parseWidths(raw string) ([]int, error) {
	if raw == "" {
		return config.MinuteWidths, nil
	}

	var widths []int
	for _, part := range strings.Split(raw, ",") {
		w, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || w <= 0 || w > 60 || 60%w != 0 {
			return nil, fmt.Errorf("invalid minute width %q: widths must divide 60", part)
		}
		widths = append(widths, w)
	}
	return widths, nil
}

// InitializeStores opens the raw reading store and the aggregate store.
func InitializeStores(cfg Config) (storage.RawStore, *stats.Store, error) {
	logrus.Info("Initializing badger raw store...")
	raw, err := badger.New(badger.Config{
		Path:        filepath.Join(cfg.DataDir, config.RawSubdir),
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open raw store: %w", err)
	}

	statsPath := filepath.Join(cfg.DataDir, config.StatsDBFilename)
	st, err := stats.Open(statsPath)
	if err != nil {
		raw.Close()
		return nil, nil, fmt.Errorf("failed to open stats store: %w", err)
	}

	logrus.Infof("Stores ready (raw: %s, stats: %s, budget: %s)",
		filepath.Join(cfg.DataDir, config.RawSubdir), statsPath, humanize.Bytes(uint64(cfg.MaxSizeBytes)))
	return raw, st, nil
}

// InitializeEngine builds the aggregation engine and retention manager
// over the stores.
func InitializeEngine(cfg Config, raw storage.RawStore, st *stats.Store) (*aggregation.Engine, *retention.Manager) {
	classifier := calendar.Classifier{
		DaytimeStart: cfg.DaytimeStart,
		DaytimeEnd:   cfg.DaytimeEnd,
		WorkdayStart: cfg.WorkdayStart,
		WorkdayEnd:   cfg.WorkdayEnd,
	}
	engine := aggregation.New(raw, st, classifier, cfg.MinuteWidths, cfg.Location)
	manager := retention.New(raw)
	return engine, manager
}

// NewRouter builds the HTTP routing table.
func NewRouter(
	ingestHandler *ingest.Handler,
	queryHandler *Handler,
	hub *live.Hub,
	storageMonitor *monitor.StorageMonitor,
	aggMonitor *monitor.AggregationMonitor,
) *mux.Router {
	router := mux.NewRouter()

	// CORS middleware for API access
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/readings", ingestHandler.HandleIngest).Methods("POST")
	api.HandleFunc("/readings", queryHandler.HandleReadings).Methods("GET")
	api.HandleFunc("/readings/current", ingestHandler.HandleCurrent).Methods("GET")
	api.HandleFunc("/stats/window", queryHandler.HandleWindowStats).Methods("GET")
	api.HandleFunc("/stats/minutes", queryHandler.HandleMinuteStats).Methods("GET")
	api.HandleFunc("/stats/hourly", queryHandler.HandleHourlyStats).Methods("GET")
	api.HandleFunc("/stats/daily", queryHandler.HandleDailyStats).Methods("GET")
	api.HandleFunc("/patterns/hourly", queryHandler.HandleHourlyPattern).Methods("GET")
	api.HandleFunc("/patterns/weekly", queryHandler.HandleWeeklyPattern).Methods("GET")
	api.HandleFunc("/patterns/daynight", queryHandler.HandleDayNightPattern).Methods("GET")
	api.HandleFunc("/patterns/workday", queryHandler.HandleWorkdayPattern).Methods("GET")
	api.HandleFunc("/storage", HandleStorageUsage(storageMonitor)).Methods("GET")
	api.HandleFunc("/health", HandleHealth(aggMonitor)).Methods("GET")
	api.HandleFunc("/ws", hub.Handler()).Methods("GET")

	return router
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		logrus.Warnf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
		logrus.Warnf("Invalid value for %s: %q, using default %g", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			return parsed
		}
		logrus.Warnf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}
