// Package main provides the API server entry point for the market scanner service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/market-scanner/internal/api"
	"github.com/market-scanner/internal/client"
	"github.com/market-scanner/internal/config"
	"github.com/market-scanner/internal/logging"
	"github.com/market-scanner/internal/service"
	"github.com/market-scanner/internal/storage"
	"github.com/market-scanner/internal/types"
	"github.com/market-scanner/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Connect to Redis
	redis, err := storage.NewRedisCache(&cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	cache := storage.NewCacheStore(redis, logger)

	// Optional snapshot archive
	var archive service.RunArchiver
	if cfg.ArchiveEnabled() {
		postgres, err := storage.NewPostgresDB(&cfg.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()

		databaseURL := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.Postgres.User, cfg.Postgres.Password,
			cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database,
		)
		if err := storage.RunMigrations(databaseURL, "migrations"); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}

		archive = storage.NewArchiveRepository(postgres.Pool())
		logger.Info("Snapshot archive enabled")
	} else {
		logger.Info("Snapshot archive disabled, no Postgres host configured")
	}

	// Upstream client and pipeline services
	upstream := client.New(&cfg.Upstream)
	aggregator := service.NewDetailAggregator(upstream, cache, cfg.Cache.DetailTTL, logger)
	catalog := service.NewCatalogService(upstream, aggregator, cache, archive, cfg.Load, cfg.Cache, logger)

	// Restore persisted snapshots so a restart serves immediately
	catalog.RestoreFromCache(context.Background())

	// Trigger the initial load when nothing could be restored
	if _, err := catalog.Snapshot(types.CatalogFull); err != nil {
		if err := catalog.TriggerLoad(types.CatalogFull, false); err != nil {
			logger.WithError(err).Warn("Initial catalog load not started")
		}
	}

	// Auto-renewal scheduler
	var scheduler *worker.RenewalScheduler
	if cfg.Renewal.Enabled {
		lastRenewal := time.Time{}
		if snap, err := catalog.Snapshot(types.CatalogFull); err == nil {
			lastRenewal = snap.CreatedAt
		}

		scheduler, err = worker.NewRenewalScheduler(&worker.RenewalSchedulerConfig{
			Runner:       catalog,
			Kind:         types.CatalogFull,
			Interval:     cfg.Renewal.Interval,
			PollInterval: cfg.Renewal.PollInterval,
			InitialDelay: cfg.Renewal.InitialDelay,
			MinRatio:     cfg.Renewal.MinRatio,
			LastRenewal:  lastRenewal,
			Logger:       logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create renewal scheduler")
		}
		if err := scheduler.Start(context.Background()); err != nil {
			logger.WithError(err).Fatal("Failed to start renewal scheduler")
		}
	}

	// HTTP server
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	var schedulerIface api.SchedulerInterface
	if scheduler != nil {
		schedulerIface = scheduler
	}
	server := api.NewServer(serverConfig, catalog, schedulerIface, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(ctx); err != nil {
			logger.WithError(err).Warn("Renewal scheduler did not stop cleanly")
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
