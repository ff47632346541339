package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/co2track/co2track/pkg/config"
	"github.com/co2track/co2track/pkg/ingest"
	"github.com/co2track/co2track/pkg/live"
	"github.com/co2track/co2track/pkg/retention"
	"github.com/co2track/co2track/pkg/scheduler"
	"github.com/co2track/co2track/pkg/server"
	"github.com/co2track/co2track/pkg/server/monitor"
)

// taskTimeout bounds one scheduled pass. Retention under heavy size
// pressure is the slowest path.
const taskTimeout = 10 * time.Minute

func main() {
	// A missing .env is fine; env vars win either way.
	_ = godotenv.Load()
	setupLogging()

	app := &cli.App{
		Name:  "co2track",
		Usage: "CO2 monitoring with multi-resolution aggregation and bounded retention",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "data directory for raw readings and aggregates",
				EnvVars: []string{"CO2TRACK_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "port",
				Usage:   "HTTP listen port",
				EnvVars: []string{"PORT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "daemon",
				Usage:  "run the full service (HTTP API, aggregation, retention)",
				Action: runDaemon,
			},
			{
				Name:   "backfill",
				Usage:  "rebuild all aggregates from the raw history and exit",
				Action: runBackfill,
			},
			{
				Name:   "cleanup",
				Usage:  "run one retention pass and exit",
				Action: runCleanup,
			},
			{
				Name:   "aggregate",
				Usage:  "run one incremental aggregation pass and exit",
				Action: runAggregate,
			},
		},
		// Bare invocation does one incremental pass, so a plain cron
		// entry works without the long-running daemon.
		DefaultCommand: "aggregate",
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func setupLogging() {
	if os.Getenv("CO2TRACK_LOG_FORMAT") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if raw := os.Getenv("CO2TRACK_LOG_LEVEL"); raw != "" {
		level, err := logrus.ParseLevel(raw)
		if err != nil {
			logrus.Warnf("Invalid CO2TRACK_LOG_LEVEL %q, using info", raw)
		} else {
			logrus.SetLevel(level)
		}
	}
}

func loadConfig(c *cli.Context) (server.Config, error) {
	if dir := c.String("data-dir"); dir != "" {
		os.Setenv("CO2TRACK_DATA_DIR", dir)
	}
	if port := c.String("port"); port != "" {
		os.Setenv("PORT", port)
	}
	return server.LoadConfig()
}

func runDaemon(c *cli.Context) error {
	logrus.Info("Starting co2track...")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	raw, st, err := server.InitializeStores(cfg)
	if err != nil {
		return err
	}
	defer raw.Close()
	defer st.Close()

	engine, manager := server.InitializeEngine(cfg, raw, st)

	storageMonitor := monitor.NewStorageMonitor(raw, cfg.MaxSizeBytes)
	aggMonitor := monitor.NewAggregationMonitor(3 * cfg.AggregationInterval)

	hub := live.NewHub()
	ingestHandler := ingest.NewHandler(raw, hub)
	queryHandler := server.NewHandler(raw, st, cfg.Location, cfg.MinuteWidths)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// Rebuild aggregates in the background; the API serves whatever is
	// already in the stats store meanwhile.
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.RunInitialBackfill(ctx, engine, aggMonitor)
	}()

	sched := scheduler.New(ctx, taskTimeout)
	if err := sched.Every(cfg.AggregationInterval, "aggregation", server.AggregationTask(engine, aggMonitor)); err != nil {
		return err
	}
	if err := sched.Every(config.RetentionInterval, "retention", server.RetentionTask(manager, cfg, storageMonitor)); err != nil {
		return err
	}
	sched.Start()

	router := server.NewRouter(ingestHandler, queryHandler, hub, storageMonitor, aggMonitor)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		logrus.Infof("Server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutdown signal received...")

	// Cancel before waiting or the hub goroutine never exits.
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logrus.Info("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		logrus.Warn("Some background tasks did not stop in time (forcing exit)")
	}

	logrus.Info("co2track exited cleanly")
	return nil
}

func runBackfill(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	raw, st, err := server.InitializeStores(cfg)
	if err != nil {
		return err
	}
	defer raw.Close()
	defer st.Close()

	engine, _ := server.InitializeEngine(cfg, raw, st)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := engine.Backfill(ctx); err != nil {
		return err
	}
	logrus.Infof("Backfill completed in %v", time.Since(start).Round(time.Millisecond))
	return nil
}

func runCleanup(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	raw, st, err := server.InitializeStores(cfg)
	if err != nil {
		return err
	}
	defer raw.Close()
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := retention.New(raw).Enforce(ctx, cfg.RetentionDays, cfg.MaxSizeBytes)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runAggregate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	raw, st, err := server.InitializeStores(cfg)
	if err != nil {
		return err
	}
	defer raw.Close()
	defer st.Close()

	engine, _ := server.InitializeEngine(cfg, raw, st)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.RunIncremental(ctx); err != nil {
		return err
	}
	logrus.Info("Incremental aggregation pass completed")
	return nil
}
