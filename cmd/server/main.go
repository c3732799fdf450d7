/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the collection engine server: admin API, nightly
  jobs and metrics. Handles configuration, dependency injection, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logger
  3. Open the store (SQLite or PostgreSQL)
  4. Build the audit sink (Kafka when brokers are set, else the store)
  5. Wire services, metrics and the optional S3 uploader
  6. Start the cron scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -port        HTTP server port (default: 8080, env PORT)
  -db          SQLite database path (default: collections.db, env DB_PATH)
               Use ":memory:" for in-memory database
  -db-driver   sqlite | postgres (env DB_DRIVER)
  -log-level   debug | info | warn | error (env LOG_LEVEL)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, waiting for a running job
  4. Drain the audit queue
  5. Close the store
  6. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/collections.db"

  # Run against PostgreSQL
  DB_DRIVER=postgres DATABASE_URL=postgres://... ./server

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
  - api/scheduler.go: Nightly jobs
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/collection-engine/api"
	"github.com/warp/collection-engine/audit"
	"github.com/warp/collection-engine/config"
	"github.com/warp/collection-engine/export"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
	"github.com/warp/collection-engine/observability"
	"github.com/warp/collection-engine/store/postgres"
	"github.com/warp/collection-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := observability.Component(logger, "server")

	ctx := context.Background()

	// Initialize store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer closeStore()

	// Audit
	var sink generic.AuditSink = store
	var kafkaSink *audit.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic)
		sink = kafkaSink
		log.WithField("topic", cfg.AuditTopic).Info("audit events published to kafka")
	}
	dispatcher := audit.NewDispatcher(sink, audit.DefaultBuffer, observability.Component(logger, "audit"))

	metrics := observability.NewMetrics()
	dispatcher.OnDrop = metrics.AuditDropped

	// Services
	handler := api.NewHandler(store, logrus.NewEntry(logger))
	handler.SetAudit(dispatcher)
	handler.SetObserver(metrics)
	handler.Recomputer.Workers = cfg.RecomputeWorkers
	handler.Purger.Grace = cfg.PurgeGrace

	if cfg.S3.Enabled() {
		uploader, err := export.NewS3Uploader(export.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize object storage: %v", err)
		}
		if err := uploader.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("export bucket not verified")
		}
		handler.Exporter.Uploader = uploader
	}

	// Scheduler
	scheduler := api.NewScheduler(handler, api.SchedulerConfig{
		RecomputeSpec: cfg.RecomputeCron,
		CleanupSpec:   cfg.CleanupCron,
		CalendarSpec:  cfg.CalendarCron,
		HorizonMonths: cfg.RestDayHorizonMonths,
	}, observability.Component(logger, "scheduler"))
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, metrics.Handler()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // full recompute runs synchronously
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "db_driver": cfg.DBDriver}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	scheduler.Stop(shutdownCtx)
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("audit queue not drained")
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.WithError(err).Warn("kafka writer close failed")
		}
	}

	log.Info("server stopped")
}

// repository is the store surface the server needs beyond loan.Repository.
type repository interface {
	loan.Repository
	Ping(ctx context.Context) error
}

func openStore(ctx context.Context, cfg *config.Config) (repository, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
}
